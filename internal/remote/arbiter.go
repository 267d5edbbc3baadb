package remote

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshcoretomqtt/mctomqtt/internal/auth"
	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
	"github.com/meshcoretomqtt/mctomqtt/internal/topics"
)

// Executor runs one command against the device console. Satisfied by
// serial.Channel.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (bool, string, error)
}

// Responder routes a signed response back on a named destination.
// Satisfied by destinations.Manager.
type Responder interface {
	PublishTo(name string, kind topics.Kind, payload []byte, qos byte, retain bool) error
}

// Signer signs response claim sets with the device key. Satisfied by
// auth.TokenService.
type Signer interface {
	SignResponse(ctx context.Context, claims auth.Claims) (string, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds arbiter counters.
type Stats struct {
	Executed uint64
	Rejected uint64
}

// Arbiter validates inbound signed command requests and serialises their
// execution against the device channel.
//
// Every rejection is logged with its reason and produces no response.
// A rejected sender learns nothing about which check failed.
type Arbiter struct {
	cfg      config.RemoteSerialConfig
	verifier auth.Provider
	signer   Signer
	nonces   *NonceStore
	exec     Executor
	resp     Responder

	// devicePublicKey is the repeater's own key; requests are only for
	// this bridge when their target claim matches it.
	devicePublicKey string

	allowed map[string]struct{}

	executed atomic.Uint64
	rejected atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex

	now func() time.Time // test hook
}

// New builds an arbiter. The allow-list is taken from cfg; keys are
// matched case-insensitively by uppercasing both sides.
func New(cfg config.RemoteSerialConfig, verifier auth.Provider, signer Signer, nonces *NonceStore, exec Executor, resp Responder, devicePublicKey string) *Arbiter {
	allowed := make(map[string]struct{}, len(cfg.AllowedCompanions))
	for _, key := range cfg.AllowedCompanions {
		allowed[strings.ToUpper(key)] = struct{}{}
	}
	return &Arbiter{
		cfg:             cfg,
		verifier:        verifier,
		signer:          signer,
		nonces:          nonces,
		exec:            exec,
		resp:            resp,
		devicePublicKey: strings.ToUpper(devicePublicKey),
		allowed:         allowed,
		now:             time.Now,
	}
}

// SetLogger sets the logger for this arbiter.
func (a *Arbiter) SetLogger(logger Logger) {
	a.loggerMu.Lock()
	a.logger = logger
	a.loggerMu.Unlock()
}

// Stats returns a snapshot of the arbiter counters.
func (a *Arbiter) Stats() Stats {
	return Stats{Executed: a.executed.Load(), Rejected: a.rejected.Load()}
}

// Handler returns the message handler for the commands topic on the
// named destination. The destination name is captured so the response
// goes back where the request arrived.
func (a *Arbiter) Handler(destName string) func(topic string, payload []byte) {
	return func(_ string, payload []byte) {
		a.Handle(context.Background(), destName, string(payload))
	}
}

// Handle validates and executes one inbound command envelope.
func (a *Arbiter) Handle(ctx context.Context, destName, envelope string) {
	if !a.cfg.Enabled {
		a.reject("feature disabled", nil)
		return
	}
	if len(a.allowed) == 0 {
		a.reject("no companions allowed", nil)
		return
	}

	claims, err := a.verifier.DecodePayload(envelope)
	if err != nil {
		a.reject("envelope does not decode", err)
		return
	}

	issuer := strings.ToUpper(claims.String("publicKey"))
	command := claims.String("command")
	target := strings.ToUpper(claims.String("target"))
	nonce := claims.String("nonce")

	if issuer == "" || command == "" || target == "" || nonce == "" {
		a.reject("missing required claims", nil)
		return
	}

	// Not addressed to this repeater. Common on shared topics, so the
	// drop is quiet.
	if target != a.devicePublicKey {
		a.logDebug("command for another target", "target", truncate(target))
		return
	}

	if _, ok := a.allowed[issuer]; !ok {
		a.reject("issuer not in allow-list", nil, "issuer", truncate(issuer))
		return
	}

	if exp, ok := claims.Int64("exp"); ok {
		unixNow := a.now().Unix()
		if unixNow > exp {
			a.reject("request expired", nil, "issuer", truncate(issuer), "exp", exp)
			return
		}
		// An expiry far beyond the configured window means a long-lived
		// envelope that would outlast its nonce record.
		if a.cfg.ExpiryWindow > 0 && exp-unixNow > int64(a.cfg.ExpiryWindow) {
			a.reject("expiry exceeds accepted window", nil, "issuer", truncate(issuer), "exp", exp)
			return
		}
	}

	live, err := a.nonces.Live(ctx, issuer, nonce)
	if err != nil {
		a.reject("nonce store failure", err)
		return
	}
	if live {
		a.reject("nonce replayed", nil, "issuer", truncate(issuer), "nonce", truncate(nonce))
		return
	}

	if _, err := a.verifier.VerifyToken(envelope, issuer); err != nil {
		a.reject("signature invalid", err, "issuer", truncate(issuer))
		return
	}

	if err := a.nonces.Record(ctx, issuer, nonce); err != nil {
		a.reject("nonce store failure", err)
		return
	}

	if rule := a.blockedBy(command); rule != "" {
		a.logWarn("command blocked", "rule", rule, "command", command, "issuer", truncate(issuer))
		a.respond(ctx, destName, command, nonce, false, "Command blocked: "+rule)
		return
	}

	a.logInfo("executing remote command", "issuer", truncate(issuer), "command", command)
	timeout := time.Duration(a.cfg.CommandTimeout) * time.Second
	ok, output, err := a.exec.Execute(ctx, command, timeout)
	if err != nil {
		a.logError("command execution failed", "error", err)
		a.respond(ctx, destName, command, nonce, false, "Execution failed: "+err.Error())
		return
	}

	a.executed.Add(1)
	a.respond(ctx, destName, command, nonce, ok, output)
}

// blockedBy returns the first disallowed prefix the command matches.
func (a *Arbiter) blockedBy(command string) string {
	cmd := strings.ToLower(strings.TrimSpace(command))
	for _, rule := range a.cfg.DisallowedCommands {
		if strings.HasPrefix(cmd, strings.ToLower(rule)) {
			return rule
		}
	}
	return ""
}

// respond signs and publishes a response on the originating destination.
// Responses are acknowledged (QoS 1); the companion is waiting for them.
func (a *Arbiter) respond(ctx context.Context, destName, command, nonce string, success bool, output string) {
	signed, err := a.signer.SignResponse(ctx, auth.Claims{
		"command":    command,
		"request_id": nonce,
		"success":    success,
		"response":   output,
	})
	if err != nil {
		a.logError("response signing failed", "error", err)
		return
	}

	if err := a.resp.PublishTo(destName, topics.KindResponses, []byte(signed), 1, false); err != nil {
		a.logError("response publish failed", "destination", destName, "error", err)
		return
	}
	a.logInfo("response published", "destination", destName, "success", success, "request_id", truncate(nonce))
}

func (a *Arbiter) reject(reason string, err error, kv ...any) {
	a.rejected.Add(1)
	args := append([]any{"reason", reason}, kv...)
	if err != nil {
		args = append(args, "error", err)
	}
	a.logWarn("command rejected", args...)
}

// truncate shortens identifiers for logs.
func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}

func (a *Arbiter) logDebug(msg string, kv ...any) { a.log(func(l Logger) { l.Debug(msg, kv...) }) }
func (a *Arbiter) logInfo(msg string, kv ...any)  { a.log(func(l Logger) { l.Info(msg, kv...) }) }
func (a *Arbiter) logWarn(msg string, kv ...any)  { a.log(func(l Logger) { l.Warn(msg, kv...) }) }
func (a *Arbiter) logError(msg string, kv ...any) { a.log(func(l Logger) { l.Error(msg, kv...) }) }

func (a *Arbiter) log(fn func(Logger)) {
	a.loggerMu.RLock()
	logger := a.logger
	a.loggerMu.RUnlock()
	if logger != nil {
		fn(logger)
	}
}
