package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kagenti/mcp-hub/internal/apierrors"
	"github.com/kagenti/mcp-hub/internal/catalog"
)

// Key identifies one embedded tool, mirroring spec §3's ToolEmbedding
// key = (upstreamName, toolName).
type Key struct {
	UpstreamName string
	ToolName     string
}

// Result is spec §4.C5 search()'s per-row output.
type Result struct {
	UpstreamName string
	ToolName     string
	Text         string
	Similarity   float64
}

// Index is the C5 Vector Index. It subscribes to the Tool Catalog and keeps
// the persisted embedding rows in sync, asynchronously with respect to
// downstream request handling (spec §4.C5's reconciliation rule).
type Index struct {
	store    *store
	embedder Embedder
	catalog  *catalog.Catalog
	logger   *slog.Logger

	mu       sync.Mutex
	dim      int
	dimKnown bool

	retryMu sync.Mutex
	retry   map[Key]struct{}
}

// Open connects to the Postgres/pgvector store and wires an Index that will
// track cat. Callers should call Start to begin reconciling, and
// ReconcileAll once at startup to backfill any rows missing for the current
// catalog contents.
func Open(ctx context.Context, connString string, embedder Embedder, cat *catalog.Catalog, logger *slog.Logger) (*Index, error) {
	st, err := newStore(ctx, connString)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		store:    st,
		embedder: embedder,
		catalog:  cat,
		logger:   logger.With("component", "vectorindex.Index"),
		retry:    make(map[Key]struct{}),
	}, nil
}

// Close releases the underlying connection pool.
func (idx *Index) Close() {
	idx.store.close()
}

// Start subscribes to catalog version bumps, performing the upserts/deletes
// spec §4.C5 describes for each diff.
func (idx *Index) Start(ctx context.Context) {
	idx.catalog.Subscribe(func(_, _ uint64, diff catalog.Diff) {
		idx.reconcileDiff(ctx, diff)
	})
}

// ReconcileAll upserts every descriptor currently in the catalog; used at
// startup so a freshly (re)started hub doesn't wait for the next version
// bump to populate the index.
func (idx *Index) ReconcileAll(ctx context.Context) {
	idx.reconcileDiff(ctx, catalog.Diff{Added: idx.catalog.List()})
}

func (idx *Index) reconcileDiff(ctx context.Context, diff catalog.Diff) {
	for _, d := range diff.Removed {
		if err := idx.store.deleteByKey(ctx, d.UpstreamName, d.ToolName); err != nil {
			idx.logger.Warn("deleting embedding", "error", err)
		}
	}
	rows := make([]Row, 0, len(diff.Added)+len(diff.Changed))
	for _, d := range append(append([]catalog.Descriptor{}, diff.Added...), diff.Changed...) {
		if !d.Enabled {
			continue
		}
		rows = append(rows, Row{UpstreamName: d.UpstreamName, ToolName: d.ToolName, Text: embeddingText(d)})
	}
	if err := idx.upsertMany(ctx, rows); err != nil {
		idx.logger.Warn("upserting embeddings", "error", err)
	}
}

// embeddingText builds the text spec §3 defines: "the concatenation of name
// + description + formatted schema". The description-override overlay (C4)
// is already baked into d.Description, satisfying spec §4.C4's "so vector
// search reflects the operator's intent".
func embeddingText(d catalog.Descriptor) string {
	schema, _ := json.Marshal(d.InputSchema)
	return fmt.Sprintf("%s\n%s\n%s", d.ToolName, d.Description, string(schema))
}

// upsertMany implements spec §4.C5's upsert semantics: only rows whose text
// differs from what's stored are re-embedded; an Embedder failure leaves the
// stale row intact and marks it for retry rather than deleting it.
func (idx *Index) upsertMany(ctx context.Context, rows []Row) error {
	var toEmbed []Row
	for _, r := range rows {
		existing, exists, err := idx.store.existingText(ctx, r.UpstreamName, r.ToolName)
		if err != nil {
			return err
		}
		if exists && existing == r.Text {
			continue
		}
		toEmbed = append(toEmbed, r)
	}
	if len(toEmbed) == 0 {
		return nil
	}

	batchTexts := make([]string, len(toEmbed))
	for i, r := range toEmbed {
		batchTexts[i] = r.Text
	}
	vectors, err := idx.embedder.Embed(ctx, batchTexts)
	if err != nil {
		for _, r := range toEmbed {
			idx.markRetry(Key{UpstreamName: r.UpstreamName, ToolName: r.ToolName})
		}
		return fmt.Errorf("embedding %d rows: %w", len(toEmbed), err)
	}

	for i, r := range toEmbed {
		vec := vectors[i]
		if err := idx.checkDimension(ctx, len(vec)); err != nil {
			return err
		}
		if err := idx.store.upsert(ctx, r.UpstreamName, r.ToolName, r.Text, vec); err != nil {
			return err
		}
		idx.clearRetry(Key{UpstreamName: r.UpstreamName, ToolName: r.ToolName})
	}
	return nil
}

// checkDimension fixes d on the first row written and rebuilds the index if
// a later embedding arrives with a different dimensionality (spec §4.C5).
func (idx *Index) checkDimension(ctx context.Context, dim int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dimKnown {
		idx.dim = dim
		idx.dimKnown = true
		return nil
	}
	if idx.dim == dim {
		return nil
	}
	idx.logger.Warn("embedding dimension changed, rebuilding index", "old", idx.dim, "new", dim)
	if err := idx.store.rebuild(ctx); err != nil {
		return err
	}
	idx.dim = dim
	return nil
}

func (idx *Index) markRetry(k Key) {
	idx.retryMu.Lock()
	defer idx.retryMu.Unlock()
	idx.retry[k] = struct{}{}
}

func (idx *Index) clearRetry(k Key) {
	idx.retryMu.Lock()
	defer idx.retryMu.Unlock()
	delete(idx.retry, k)
}

// DeleteByUpstream removes every row for an upstream, called when the
// upstream itself is removed from settings.
func (idx *Index) DeleteByUpstream(ctx context.Context, upstreamName string) error {
	return idx.store.deleteByUpstream(ctx, upstreamName)
}

// Search performs the k-nearest cosine search spec §4.C5 describes, then
// filters out anything no longer present in the current catalog — "search
// must ... never return a key that is currently absent from the catalog".
func (idx *Index) Search(ctx context.Context, query string, k int, threshold float64) ([]Result, error) {
	vec, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding for query", apierrors.ErrEmbedderUnavailable)
	}
	matches, err := idx.store.search(ctx, vec[0], k, threshold)
	if err != nil {
		return nil, err
	}

	live := make(map[Key]bool)
	for _, d := range idx.catalog.List() {
		if d.Enabled {
			live[Key{UpstreamName: d.UpstreamName, ToolName: d.ToolName}] = true
		}
	}

	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		if !live[Key{UpstreamName: m.UpstreamName, ToolName: m.ToolName}] {
			continue
		}
		out = append(out, Result{
			UpstreamName: m.UpstreamName,
			ToolName:     m.ToolName,
			Text:         m.Text,
			Similarity:   m.Similarity,
		})
	}
	return out, nil
}
