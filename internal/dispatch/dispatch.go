// Package dispatch implements the Tool Dispatcher: the single entry point
// every inbound JSON-RPC tool call passes through. It validates the
// caller's session, resolves their per-user database handle, enforces
// confirmation semantics for destructive tools, and routes to a handler.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/categorize"
	"gmaildispatch/internal/cleanup/policy"
	"gmaildispatch/internal/jobs"
	"gmaildispatch/internal/middleware"
	"gmaildispatch/internal/rpcerr"
	"gmaildispatch/internal/session"
	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/auth"
	"gmaildispatch/pkg/gmail"
	"gmaildispatch/pkg/logger"
)

// destructiveTools require either confirm=true or dry_run=true.
var destructiveTools = map[string]bool{
	"delete_emails": true,
}

// exemptTools are dispatched without session validation.
var exemptTools = map[string]bool{
	"authenticate": true,
}

// Bundle is the process-scoped resource bundle: every component the
// dispatcher's handlers need, constructed once at startup and passed in
// explicitly. No handler reaches for a package-level global.
type Bundle struct {
	Sessions     *session.Store
	Storage      *storage.Factory
	Cache        *cache.Cache
	Jobs         *jobs.Store
	Queue        *jobs.Queue
	Policies     *policy.Engine
	Orchestrator *categorize.Orchestrator

	// Tokens and OAuthConfig back the dispatcher's own Gmail calls for
	// synchronous tools (archive_emails, delete_emails). Both may be nil
	// in categorization-only deployments; those tools then fail with a
	// clear "not configured" error instead of a nil-pointer panic.
	Tokens      *auth.TokenStore
	OAuthConfig *oauth2.Config
}

// gmailClientFor mints a Gmail API client authenticated as userID from
// whatever OAuth token the authenticate/login flow stashed in the token
// store. Mirrors internal/worker's gmailClientFor; the dispatcher needs its
// own copy because synchronous tools act on Gmail without going through
// the job queue.
func (d *Dispatcher) gmailClientFor(ctx context.Context, userID string) (*gmail.Service, error) {
	if d.bundle.Tokens == nil || d.bundle.OAuthConfig == nil {
		return nil, fmt.Errorf("gmail credentials are not configured for this process")
	}
	token, err := d.bundle.Tokens.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("loading stored token: %w", err)
	}
	if token == nil {
		return nil, fmt.Errorf("no Gmail token on file for user %s; re-authenticate", userID)
	}
	httpClient := d.bundle.OAuthConfig.Client(ctx, token)
	return gmail.NewService(ctx, option.WithHTTPClient(httpClient))
}

// Dispatcher routes validated tool calls to their handlers.
type Dispatcher struct {
	bundle *Bundle
	log    *zap.Logger
}

// New constructs a Dispatcher over bundle.
func New(bundle *Bundle) *Dispatcher {
	return &Dispatcher{bundle: bundle, log: logger.DispatchLogger()}
}

// UserContext is the {user_id, session_id} pair every non-exempt tool call
// must carry.
type UserContext struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Call dispatches a single tool invocation. args is the raw JSON object of
// tool arguments; the returned value is whatever the handler produces,
// ready for the transport layer to wrap in a result envelope.
func (d *Dispatcher) Call(toolName string, args json.RawMessage) (result any, err error) {
	start := time.Now()
	defer func() { middleware.RecordToolCall(toolName, time.Since(start), err) }()

	handler, ok := handlers[toolName]
	if !ok {
		return nil, rpcerr.MethodNotFound(toolName)
	}

	var raw map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &raw); err != nil {
			return nil, rpcerr.InvalidParams("malformed arguments: " + err.Error())
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if exemptTools[toolName] {
		return handler(d, "", raw)
	}

	userID, err := d.validateContext(raw)
	if err != nil {
		return nil, err
	}

	if destructiveTools[toolName] {
		confirm, _ := raw["confirm"].(bool)
		dryRun, _ := raw["dry_run"].(bool)
		if !confirm && !dryRun {
			return nil, rpcerr.InvalidParams(fmt.Sprintf("%s requires confirm=true or dry_run=true", toolName))
		}
	}

	result, err = handler(d, userID, raw)
	if err != nil {
		if typed, ok := rpcerr.As(err); ok {
			return nil, typed
		}
		d.log.Error("handler error mapped to InternalError", zap.String("tool", toolName), zap.Error(err))
		return nil, rpcerr.Internal("handler failed", err)
	}
	return result, nil
}

// validateContext extracts and checks args.user_context, extending the
// session on success.
func (d *Dispatcher) validateContext(raw map[string]any) (string, error) {
	ucRaw, ok := raw["user_context"].(map[string]any)
	if !ok {
		return "", rpcerr.InvalidRequest("missing user_context")
	}
	userID, _ := ucRaw["user_id"].(string)
	sessionID, _ := ucRaw["session_id"].(string)
	if userID == "" || sessionID == "" {
		return "", rpcerr.InvalidRequest("user_context requires user_id and session_id")
	}

	sess, ok := d.bundle.Sessions.Validate(userID, sessionID)
	if !ok {
		return "", rpcerr.InvalidRequest("invalid or expired session")
	}
	if sess.UserID != userID {
		return "", rpcerr.InvalidRequest("session does not belong to user")
	}
	return userID, nil
}

type handlerFunc func(d *Dispatcher, userID string, args map[string]any) (any, error)

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		"authenticate":             handleAuthenticate,
		"list_emails":              handleListEmails,
		"search_emails":            handleSearchEmails,
		"categorize_emails":        handleCategorizeEmails,
		"get_email_stats":          handleGetEmailStats,
		"archive_emails":           handleArchiveEmails,
		"delete_emails":            handleDeleteEmails,
		"get_job_status":           handleGetJobStatus,
		"create_cleanup_policy":    handleCreateCleanupPolicy,
		"update_cleanup_policy":    handleUpdateCleanupPolicy,
		"list_cleanup_policies":    handleListCleanupPolicies,
		"delete_cleanup_policy":    handleDeleteCleanupPolicy,
		"trigger_cleanup":          handleTriggerCleanup,
		"create_cleanup_schedule":  handleCreateCleanupSchedule,
		"save_search":              handleSaveSearch,
		"list_saved_searches":      handleListSavedSearches,
	}
}
