// Package gmail wraps the vendor Gmail API client with the primitives the
// Tool Dispatcher's handlers need: paginated listing, full-message fetch
// with header/body extraction into an email_index row, and batched
// label/trash/delete mutations. Every call is rate-limited and retried on
// transient failure before the caller ever sees an error.
package gmail

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"gmaildispatch/internal/rpcerr"
	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/logger"
)

// maxPerPage is the Gmail API's hard per-request page size limit for
// Messages.List and Threads.List.
const maxPerPage = 500

// batchModifyChunkSize is the Gmail API's hard limit on ids per
// BatchModify/BatchDelete request.
const batchModifyChunkSize = 1000

// retryAttempts and retryBaseDelay configure the bounded backoff applied to
// every outbound Gmail API call.
const retryAttempts = 3

const retryBaseDelay = 250 * time.Millisecond

// Service wraps the Gmail API client with rate limiting and retry. One
// Service is bound to a single Gmail account's credentials, constructed
// per user at the point that account's access token is available.
type Service struct {
	api     *gmail.Service
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewService constructs a Service. httpClientOpt typically carries the
// user's OAuth2 token source (option.WithTokenSource or
// option.WithHTTPClient); callers construct a fresh Service per Gmail
// account since the vendor client is bound to one credential at
// construction time.
func NewService(ctx context.Context, httpClientOpt option.ClientOption) (*Service, error) {
	api, err := gmail.NewService(ctx, httpClientOpt)
	if err != nil {
		return nil, fmt.Errorf("init gmail service: %w", err)
	}
	return &Service{
		// Gmail's per-user quota is generous but bursty requests still get
		// throttled; 10 req/s with a small burst keeps pagination loops and
		// batch operations comfortably under it.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		api:     api,
		log:     logger.L().Named("gmail"),
	}, nil
}

// withRetry runs fn up to retryAttempts times in all, retrying only on a
// transient classification, waiting on the rate limiter before each attempt.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter wait: %w", op, err)
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		classified := rpcerr.Classify(lastErr)
		typed, ok := rpcerr.As(classified)
		if !ok || typed.Code != rpcerr.CodeTransientExternalFailure {
			return classified
		}
		s.log.Warn("transient gmail api failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBaseDelay * time.Duration(1<<attempt)):
		}
	}
	return rpcerr.Classify(lastErr)
}

// ListMessages returns up to max message stubs (id/threadId only) matching
// query and labelIDs, paginating transparently up to the Gmail API's
// per-page limit.
func (s *Service) ListMessages(ctx context.Context, userID, query string, labelIDs []string, max int64) ([]*gmail.Message, error) {
	log := s.log.With(zap.String("user_id", userID), zap.String("query", query))
	start := time.Now()

	var all []*gmail.Message
	var pageToken string
	totalFetched := int64(0)
	pageCount := 0

	for {
		pageCount++
		pageSize := int64(maxPerPage)
		if remaining := max - totalFetched; remaining < maxPerPage {
			pageSize = remaining
		}
		if pageSize <= 0 {
			break
		}

		var res *gmail.ListMessagesResponse
		err := s.withRetry(ctx, "list_messages", func() error {
			call := s.api.Users.Messages.List(userID).MaxResults(pageSize)
			if query != "" {
				call = call.Q(query)
			}
			if len(labelIDs) > 0 {
				call = call.LabelIds(labelIDs...)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var callErr error
			res, callErr = call.Context(ctx).Do()
			return callErr
		})
		if err != nil {
			log.Error("failed to list messages page", zap.Int("page", pageCount), zap.Error(err))
			return nil, err
		}

		all = append(all, res.Messages...)
		totalFetched += int64(len(res.Messages))
		pageToken = res.NextPageToken
		if pageToken == "" || len(res.Messages) == 0 || totalFetched >= max {
			break
		}
	}

	log.Info("listed messages",
		zap.Int("pages", pageCount),
		zap.Int64("total", totalFetched),
		zap.Duration("duration", time.Since(start)),
	)
	return all, nil
}

// EstimateCount returns the Gmail API's estimated result count for query
// and labelIDs without fetching full pages.
func (s *Service) EstimateCount(ctx context.Context, userID, query string, labelIDs []string) (int64, error) {
	var res *gmail.ListMessagesResponse
	err := s.withRetry(ctx, "estimate_count", func() error {
		call := s.api.Users.Messages.List(userID).MaxResults(1)
		if query != "" {
			call = call.Q(query)
		}
		if len(labelIDs) > 0 {
			call = call.LabelIds(labelIDs...)
		}
		var callErr error
		res, callErr = call.Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return 0, err
	}
	return res.ResultSizeEstimate, nil
}

// GetMessage fetches a single message in full format, including headers
// and body structure needed to build an email_index row.
func (s *Service) GetMessage(ctx context.Context, userID, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := s.withRetry(ctx, "get_message", func() error {
		var callErr error
		msg, callErr = s.api.Users.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ToEmailIndex maps a fetched Gmail message into the email_index row
// shape. It never sets Category or any enrichment field — those are the
// categorization pipeline's responsibility, applied on top of this raw
// ingestion record.
func ToEmailIndex(userID string, msg *gmail.Message) (*storage.EmailIndex, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	headers := headerMap(msg.Payload)

	sentAt, err := parseMessageDate(headers["Date"], msg.InternalDate)
	if err != nil {
		return nil, fmt.Errorf("parsing message date: %w", err)
	}

	return &storage.EmailIndex{
		ID:             msg.Id,
		ThreadID:       msg.ThreadId,
		UserID:         userID,
		Sender:         headers["From"],
		Recipients:     splitAddressList(headers["To"]),
		Subject:        decodeHeaderWord(headers["Subject"]),
		Snippet:        msg.Snippet,
		Labels:         msg.LabelIds,
		HasAttachments: hasAttachments(msg.Payload),
		Date:           sentAt,
		Year:           sentAt.Year(),
		SizeBytes:      msg.SizeEstimate,
	}, nil
}

func headerMap(part *gmail.MessagePart) map[string]string {
	out := make(map[string]string)
	if part == nil {
		return out
	}
	for _, h := range part.Headers {
		out[h.Name] = h.Value
	}
	return out
}

func parseMessageDate(dateHeader string, internalDateMillis int64) (time.Time, error) {
	if dateHeader != "" {
		if t, err := parseRFC5322ish(dateHeader); err == nil {
			return t, nil
		}
	}
	if internalDateMillis > 0 {
		return time.UnixMilli(internalDateMillis).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("message has neither a parseable Date header nor internalDate")
}

// parseRFC5322ish tries the layouts Gmail's Date header actually shows up
// in, which is looser than net/mail.ParseDate tolerates.
func parseRFC5322ish(s string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func decodeHeaderWord(s string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func splitAddressList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hasAttachments(part *gmail.MessagePart) bool {
	if part == nil {
		return false
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		return true
	}
	for _, child := range part.Parts {
		if hasAttachments(child) {
			return true
		}
	}
	return false
}

// BatchModifyMessages adds and removes labels across ids in chunks of
// batchModifyChunkSize, the Gmail API's per-request limit for
// BatchModify. Used for archive (remove INBOX) and restore operations.
func (s *Service) BatchModifyMessages(ctx context.Context, userID string, ids []string, addLabelIDs, removeLabelIDs []string) error {
	if len(ids) == 0 {
		return nil
	}
	log := s.log.With(zap.String("user_id", userID), zap.Int("count", len(ids)))
	log.Info("batch modifying messages", zap.Strings("add", addLabelIDs), zap.Strings("remove", removeLabelIDs))

	for _, chunk := range chunkStrings(ids, batchModifyChunkSize) {
		req := &gmail.BatchModifyMessagesRequest{
			Ids:            chunk,
			AddLabelIds:    addLabelIDs,
			RemoveLabelIds: removeLabelIDs,
		}
		err := s.withRetry(ctx, "batch_modify_messages", func() error {
			return s.api.Users.Messages.BatchModify(userID, req).Context(ctx).Do()
		})
		if err != nil {
			log.Error("batch modify chunk failed", zap.Int("chunk_size", len(chunk)), zap.Error(err))
			return err
		}
	}
	return nil
}

// BatchTrashMessages moves messages to Trash by removing INBOX and adding
// TRASH, mirroring the label state the Gmail UI's trash action produces.
func (s *Service) BatchTrashMessages(ctx context.Context, userID string, ids []string) error {
	return s.BatchModifyMessages(ctx, userID, ids, []string{"TRASH"}, []string{"INBOX"})
}

// BatchDeleteMessagesPermanently permanently and irreversibly deletes
// messages, bypassing Trash.
func (s *Service) BatchDeleteMessagesPermanently(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	log := s.log.With(zap.String("user_id", userID), zap.Int("count", len(ids)))
	log.Warn("batch permanently deleting messages - irreversible action")

	for _, chunk := range chunkStrings(ids, batchModifyChunkSize) {
		req := &gmail.BatchDeleteMessagesRequest{Ids: chunk}
		err := s.withRetry(ctx, "batch_delete_messages", func() error {
			return s.api.Users.Messages.BatchDelete(userID, req).Context(ctx).Do()
		})
		if err != nil {
			log.Error("batch delete chunk failed", zap.Int("chunk_size", len(chunk)), zap.Error(err))
			return err
		}
	}
	log.Warn("batch permanent delete completed", zap.Int("total", len(ids)))
	return nil
}

func chunkStrings(ids []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}

// ListLabels returns every label defined for userID, system and
// user-created alike.
func (s *Service) ListLabels(ctx context.Context, userID string) ([]*gmail.Label, error) {
	var res *gmail.ListLabelsResponse
	err := s.withRetry(ctx, "list_labels", func() error {
		var callErr error
		res, callErr = s.api.Users.Labels.List(userID).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return res.Labels, nil
}
