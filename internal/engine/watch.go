package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/stream"
	"github.com/nightscape/holon/internal/telemetry"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/internal/util/stopper"
)

// pollInterval matches the shadow-log CDC poller's cadence
// (internal/storage/cdc.go) so a watch_query subscriber observes
// changes on roughly the same latency budget as a row_changes one.
const pollInterval = 20 * time.Millisecond

// RowChange mirrors storage.RowChange's shape for a view's change
// stream: the view name the change was observed on, plus the Change
// itself (Stream<RowChange>).
type RowChange = storage.RowChange

// WatchHandle must be retained for the life of a watch_query
// subscription; Close drops the materialized view and stops its
// poller, and the view is recreated from scratch on re-subscribe.
type WatchHandle struct {
	registry *viewRegistry
	viewName string
	sub      *stream.Subscription[*types.StorageEntity]
}

// Close ends the subscription and, if no other subscriber remains on
// the same view, drops it and stops its poller.
func (h *WatchHandle) Close() {
	h.sub.Close()
	h.registry.release(h.viewName)
}

// viewWatcher owns one materialized view and the diff-poll loop that
// turns its row set into CDC-shaped Changes.
type viewWatcher struct {
	viewName string
	pool     *storage.Pool
	topic    *stream.Topic[*types.StorageEntity]
	sc       *stopper.Context

	mu   sync.Mutex
	rows map[string]*types.StorageEntity // keyed by row id (or a synthetic key, see rowKey)
	refs int
}

// viewRegistry tracks the live watch views keyed by the deterministic
// name derived from their SQL, so concurrent watch_query calls for the
// same query share one poller and one materialized view instead of
// each recreating it: the first subscriber creates the view, the rest
// join the same poller.
type viewRegistry struct {
	pool     *storage.Pool
	capacity int

	mu     sync.Mutex
	active map[string]*viewWatcher
}

// newViewRegistry builds a registry whose topics use capacity
// per-subscriber buffering (stream.NewTopic still enforces
// stream.DefaultCapacity as a floor); capacity <= 0 means "use the
// library default".
func newViewRegistry(pool *storage.Pool, capacity int) *viewRegistry {
	return &viewRegistry{pool: pool, capacity: capacity, active: make(map[string]*viewWatcher)}
}

// viewName derives a deterministic `watch_view_<hex(stable_hash(sql))>`
// name, grounded on docxology-GuildNet's use of cespare/xxhash for
// fast non-cryptographic hashing.
func viewName(sql string) string {
	sum := xxhash.Sum64String(sql)
	return "watch_view_" + hex.EncodeToString([]byte{
		byte(sum >> 56), byte(sum >> 48), byte(sum >> 40), byte(sum >> 32),
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
	})
}

// WatchQuery materializes a view over sql (dropping and recreating it
// if a prior subscription left one registered under the same name),
// subscribes to its poll-diffed CDC stream, and returns a handle plus
// the channel (watch_query).
func (e *Engine) WatchQuery(ctx context.Context, sql string, args []interface{}) (*WatchHandle, <-chan RowChange, error) {
	name := viewName(sql)
	w, err := e.views.acquire(ctx, name, sql, args)
	if err != nil {
		return nil, nil, err
	}

	sub := w.topic.Subscribe(ctx)
	out := make(chan RowChange, stream.DefaultCapacity)
	go func() {
		defer close(out)
		for env := range sub.C() {
			if env.Err != nil {
				telemetry.StreamLagEvents.WithLabelValues(name).Inc()
				log.WithError(env.Err).WithField("view", name).Warn("watch_query: lag event")
				continue
			}
			for _, c := range env.Batch.Changes {
				out <- RowChange{RelationName: name, Change: c}
			}
		}
	}()

	return &WatchHandle{registry: e.views, viewName: name, sub: sub}, out, nil
}

func (r *viewRegistry) acquire(ctx context.Context, name, sql string, args []interface{}) (*viewWatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.active[name]; ok {
		w.mu.Lock()
		w.refs++
		w.mu.Unlock()
		return w, nil
	}

	if err := createView(ctx, r.pool, name, sql, args); err != nil {
		return nil, err
	}

	cap := r.capacity
	if cap <= 0 {
		cap = stream.DefaultCapacity
	}
	w := &viewWatcher{
		viewName: name,
		pool:     r.pool,
		topic:    stream.NewTopic[*types.StorageEntity](name, cap),
		sc:       stopper.WithContext(context.Background()),
		rows:     make(map[string]*types.StorageEntity),
	}
	w.refs = 1
	r.active[name] = w
	w.sc.Go(func() error {
		w.pollLoop()
		return nil
	})
	return w, nil
}

func (r *viewRegistry) release(name string) {
	r.mu.Lock()
	w, ok := r.active[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	w.mu.Lock()
	w.refs--
	done := w.refs <= 0
	w.mu.Unlock()
	if done {
		delete(r.active, name)
	}
	r.mu.Unlock()

	if done {
		w.sc.Stop()
		_ = w.pool.ExecSQL(context.Background(), "DROP VIEW IF EXISTS "+quoteSQLIdent(name))
	}
}

func (r *viewRegistry) closeAll() {
	r.mu.Lock()
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	r.mu.Unlock()
	for _, name := range names {
		r.mu.Lock()
		w := r.active[name]
		delete(r.active, name)
		r.mu.Unlock()
		if w != nil {
			w.sc.Stop()
			_ = w.pool.ExecSQL(context.Background(), "DROP VIEW IF EXISTS "+quoteSQLIdent(name))
		}
	}
}

func createView(ctx context.Context, pool *storage.Pool, name, sql string, args []interface{}) error {
	if err := pool.ExecSQL(ctx, "DROP VIEW IF EXISTS "+quoteSQLIdent(name)); err != nil {
		return err
	}
	inlined, err := inlineArgs(sql, args)
	if err != nil {
		return err
	}
	return pool.ExecSQL(ctx, "CREATE VIEW "+quoteSQLIdent(name)+" AS "+inlined)
}

// inlineArgs substitutes each positional `?` placeholder with a
// literal SQL representation of its bound value: sqlite's CREATE VIEW
// has no parameter-binding surface, so a materialized view's
// definition must carry its arguments inline rather than as driver
// params.
func inlineArgs(sql string, args []interface{}) (string, error) {
	if len(args) == 0 {
		return sql, nil
	}
	var out strings.Builder
	argIdx := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] == '?' {
			if argIdx >= len(args) {
				return "", fmt.Errorf("engine: more `?` placeholders than bound args")
			}
			out.WriteString(literalSQL(args[argIdx]))
			argIdx++
			continue
		}
		out.WriteByte(sql[i])
	}
	return out.String(), nil
}

func literalSQL(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case time.Time:
		return "'" + x.Format(time.RFC3339Nano) + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", x), "'", "''") + "'"
	}
}

func quoteSQLIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// rowKey picks the diffing key for a polled row: the "id" field when
// present (every schema-backed entity has one), else a full-row
// fingerprint so ID-less projections (a bare aggregate, say) still
// diff correctly, just without stable Updated detection — any field
// change then looks like a delete+insert of a differently-keyed row,
// which is the best a key-less projection can offer.
func rowKey(e *types.StorageEntity) string {
	if id := e.ID(); id != "" {
		return id
	}
	var b strings.Builder
	for _, name := range e.Fields() {
		v, _ := e.Get(name)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(v.AsString())
		b.WriteByte(';')
	}
	return b.String()
}

func (w *viewWatcher) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.sc.Stopping():
			return
		case <-ticker.C:
			if err := w.poll(); err != nil {
				log.WithError(err).WithField("view", w.viewName).Warn("watch_query: poll failed")
			}
		}
	}
}

// poll diffs the view's full current rows against the last snapshot on
// a timer rather than reacting to any single write, so a changed row
// here has no one originating operation to attribute it to; its
// Changes always carry an empty LocalOrigin, unlike the shadow-log CDC
// path in internal/storage/cdc.go, which has a real operation/trace id
// to propagate because it runs inside the mutating call's own ctx.
func (w *viewWatcher) poll() error {
	current, err := w.pool.QuerySQL(context.Background(), "SELECT * FROM "+quoteSQLIdent(w.viewName))
	if err != nil {
		return err
	}

	w.mu.Lock()
	previous := w.rows
	next := make(map[string]*types.StorageEntity, len(current))
	var changes []types.Change[*types.StorageEntity]
	for _, row := range current {
		key := rowKey(row)
		next[key] = row
		if prior, ok := previous[key]; !ok {
			changes = append(changes, types.Created[*types.StorageEntity](row, types.LocalOrigin("", "")))
		} else if !sameRow(prior, row) {
			changes = append(changes, types.Updated[*types.StorageEntity](key, row, types.LocalOrigin("", "")))
		}
	}
	for key := range previous {
		if _, ok := next[key]; !ok {
			changes = append(changes, types.Deleted[*types.StorageEntity](key, types.LocalOrigin("", "")))
		}
	}
	w.rows = next
	w.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}
	coalesced := stream.Coalesce(w.viewName, changes, func(e *types.StorageEntity) string { return rowKey(e) })
	if dropped := len(changes) - len(coalesced); dropped > 0 {
		telemetry.CDCChangesCoalesced.WithLabelValues(w.viewName).Add(float64(dropped))
	}
	if len(coalesced) > 0 {
		w.topic.Publish(types.NewBatch(w.viewName, coalesced))
		telemetry.CDCBatchesEmitted.WithLabelValues(w.viewName).Inc()
	}
	return nil
}

func sameRow(a, b *types.StorageEntity) bool {
	af, bf := a.Fields(), b.Fields()
	if len(af) != len(bf) {
		return false
	}
	for _, name := range af {
		av, _ := a.Get(name)
		bv, ok := b.Get(name)
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}
