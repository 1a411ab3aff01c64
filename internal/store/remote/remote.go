// Package remote is a Repository that talks to another node's replication
// endpoints over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledger-core/internal/ledger"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// TokenHeader carries the shared replication secret.
const TokenHeader = "X-Replication-Token"

// Store implements ledger.Repository against a remote node.
type Store struct {
	base   string
	token  string
	reads  *retryablehttp.Client
	writes *http.Client
}

var _ ledger.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces the underlying transport client, e.g. in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		s.writes = c
		s.reads.HTTPClient = c
	}
}

// WithLogger logs read retries.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.reads.Logger = retryLogger{l.With().Str("component", "remote_store").Logger()} }
}

// WithRetries sets how many times a read is retried.
func WithRetries(n int) Option {
	return func(s *Store) { s.reads.RetryMax = n }
}

// New returns a client for the node at baseURL. Reads are retried with
// backoff; commits are sent once because a replayed commit would fail its
// version check.
func New(baseURL, token string, opts ...Option) *Store {
	pooled := cleanhttp.DefaultPooledClient()
	pooled.Timeout = 10 * time.Second

	reads := retryablehttp.NewClient()
	reads.HTTPClient = pooled
	reads.RetryMax = 3
	reads.RetryWaitMin = 50 * time.Millisecond
	reads.RetryWaitMax = time.Second
	reads.Logger = nil

	s := &Store{
		base:   strings.TrimRight(baseURL, "/") + "/internal/store",
		token:  token,
		reads:  reads,
		writes: pooled,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// decodeError maps a non-2xx reply back onto the ledger sentinels.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		return fmt.Errorf("remote store: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if sentinel := ledger.ErrorForCode(body.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, body.Error)
	}
	return fmt.Errorf("remote store: %s: %s", body.Code, body.Error)
}

func (s *Store) get(ctx context.Context, path string, query url.Values, out any) error {
	u := s.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(TokenHeader, s.token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.reads.Do(req)
	if err != nil {
		return fmt.Errorf("remote store GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func getOne[T any](ctx context.Context, s *Store, bucket, id string) (*T, error) {
	if id == "" {
		return nil, ledger.ErrNotFound
	}
	var v T
	if err := s.get(ctx, "/"+bucket+"/"+url.PathEscape(id), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func getList[T any](ctx context.Context, s *Store, path string, query url.Values) ([]T, error) {
	var items struct {
		Items []T `json:"items"`
	}
	if err := s.get(ctx, path, query, &items); err != nil {
		return nil, err
	}
	if items.Items == nil {
		items.Items = []T{}
	}
	return items.Items, nil
}

func byUser(userID string) url.Values {
	return url.Values{"user_id": []string{userID}}
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	if userID == "" {
		return nil, ledger.ErrUserIDRequired
	}
	return getOne[ledger.Account](ctx, s, "accounts", userID)
}

func (s *Store) GetTrade(ctx context.Context, id string) (*ledger.Trade, error) {
	return getOne[ledger.Trade](ctx, s, "trades", id)
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*ledger.WithdrawalRequest, error) {
	return getOne[ledger.WithdrawalRequest](ctx, s, "withdrawals", id)
}

func (s *Store) GetPledge(ctx context.Context, id string) (*ledger.Pledge, error) {
	return getOne[ledger.Pledge](ctx, s, "pledges", id)
}

func (s *Store) ListTrades(ctx context.Context, userID string) ([]ledger.Trade, error) {
	if userID == "" {
		return nil, ledger.ErrUserIDRequired
	}
	return getList[ledger.Trade](ctx, s, "/trades", byUser(userID))
}

func (s *Store) ListPendingFeatures(ctx context.Context) ([]ledger.Trade, error) {
	return getList[ledger.Trade](ctx, s, "/trades/pending", nil)
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string) ([]ledger.WithdrawalRequest, error) {
	var q url.Values
	if userID != "" {
		q = byUser(userID)
	}
	return getList[ledger.WithdrawalRequest](ctx, s, "/withdrawals", q)
}

func (s *Store) ListPledges(ctx context.Context, userID string) ([]ledger.Pledge, error) {
	if userID == "" {
		return nil, ledger.ErrUserIDRequired
	}
	return getList[ledger.Pledge](ctx, s, "/pledges", byUser(userID))
}

func (s *Store) ListActivePledges(ctx context.Context) ([]ledger.Pledge, error) {
	return getList[ledger.Pledge](ctx, s, "/pledges/active", nil)
}

// CommitRequest is the wire form of a changeset.
type CommitRequest struct {
	Account     *ledger.Account            `json:"account,omitempty"`
	Trades      []ledger.Trade             `json:"trades,omitempty"`
	Withdrawals []ledger.WithdrawalRequest `json:"withdrawals,omitempty"`
	Pledges     []ledger.Pledge            `json:"pledges,omitempty"`
}

// Changeset converts the wire form back.
func (r CommitRequest) Changeset() ledger.Changeset {
	return ledger.Changeset{
		Account:     r.Account,
		Trades:      r.Trades,
		Withdrawals: r.Withdrawals,
		Pledges:     r.Pledges,
	}
}

func (s *Store) Commit(ctx context.Context, cs ledger.Changeset) error {
	if cs.Empty() {
		return nil
	}
	payload, err := json.Marshal(CommitRequest{
		Account:     cs.Account,
		Trades:      cs.Trades,
		Withdrawals: cs.Withdrawals,
		Pledges:     cs.Pledges,
	})
	if err != nil {
		return fmt.Errorf("encode changeset: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/commit", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(TokenHeader, s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.writes.Do(req)
	if err != nil {
		return fmt.Errorf("remote store commit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping asks the remote node whether its own repository is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := s.get(ctx, "/ping", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return errors.New("remote store: " + out.Status)
	}
	return nil
}

func (s *Store) Close() error {
	s.writes.CloseIdleConnections()
	return nil
}

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.log.Debug().Fields(kv).Msg(msg) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
