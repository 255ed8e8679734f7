package mailclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boxkeep/boxkeep/internal/cache"
	"github.com/boxkeep/boxkeep/internal/resilience"
)

// Guard decorates a Provider with the cache and resilience layers: reads are
// served from the cache when fresh, every upstream call runs under retry and
// breaker protection, and mutations invalidate the message-list and counts
// namespaces so subsequent reads are not served stale.
type Guard struct {
	inner  Provider
	exec   *resilience.Executor
	cache  *cache.Cache
	logger *slog.Logger
}

// NewGuard wraps a backend provider.
func NewGuard(inner Provider, exec *resilience.Executor, c *cache.Cache, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		inner:  inner,
		exec:   exec,
		cache:  c,
		logger: logger.With("component", "mail_guard"),
	}
}

func (g *Guard) ListMessages(ctx context.Context, query string, maxResults int) ([]Message, error) {
	key := fmt.Sprintf("%s|%d", query, maxResults)
	if v, ok := g.cache.Get(cache.NamespaceMessageLists, key); ok {
		return cloneMessages(v.([]Message)), nil
	}

	messages, err := resilience.DoValue(ctx, g.exec, "list_messages", func(ctx context.Context) ([]Message, error) {
		return g.inner.ListMessages(ctx, query, maxResults)
	})
	if err != nil {
		return nil, err
	}

	g.cache.Set(cache.NamespaceMessageLists, key, cloneMessages(messages))
	return messages, nil
}

// cloneMessages copies a message list, including each message's Labels slice,
// so the cache entry and callers never share backing arrays.
func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Labels != nil {
			out[i].Labels = append([]string(nil), out[i].Labels...)
		}
	}
	return out
}

func (g *Guard) Counts(ctx context.Context) (Counts, error) {
	if v, ok := g.cache.Get(cache.NamespaceCounts, "counts"); ok {
		return v.(Counts), nil
	}

	counts, err := resilience.DoValue(ctx, g.exec, "counts", func(ctx context.Context) (Counts, error) {
		return g.inner.Counts(ctx)
	})
	if err != nil {
		return Counts{}, err
	}

	g.cache.Set(cache.NamespaceCounts, "counts", counts)
	return counts, nil
}

func (g *Guard) Labels(ctx context.Context) ([]Label, error) {
	if v, ok := g.cache.Get(cache.NamespaceLabels, "labels"); ok {
		return append([]Label(nil), v.([]Label)...), nil
	}

	labels, err := resilience.DoValue(ctx, g.exec, "labels", func(ctx context.Context) ([]Label, error) {
		return g.inner.Labels(ctx)
	})
	if err != nil {
		return nil, err
	}

	g.cache.Set(cache.NamespaceLabels, "labels", append([]Label(nil), labels...))
	return labels, nil
}

// mutate runs op under resilience protection and invalidates read caches a
// mutation makes stale.
func (g *Guard) mutate(ctx context.Context, label string, op func(ctx context.Context) (ActionResult, error)) (ActionResult, error) {
	res, err := resilience.DoValue(ctx, g.exec, label, op)
	if err != nil {
		return res, err
	}

	g.cache.Invalidate(cache.NamespaceMessageLists)
	g.cache.Invalidate(cache.NamespaceCounts)
	return res, nil
}

func (g *Guard) Archive(ctx context.Context, ids []string) (ActionResult, error) {
	return g.mutate(ctx, "archive", func(ctx context.Context) (ActionResult, error) {
		return g.inner.Archive(ctx, ids)
	})
}

func (g *Guard) Delete(ctx context.Context, ids []string) (ActionResult, error) {
	return g.mutate(ctx, "delete", func(ctx context.Context) (ActionResult, error) {
		return g.inner.Delete(ctx, ids)
	})
}

func (g *Guard) AddLabels(ctx context.Context, ids []string, labelIDs []string) (ActionResult, error) {
	return g.mutate(ctx, "add_labels", func(ctx context.Context) (ActionResult, error) {
		return g.inner.AddLabels(ctx, ids, labelIDs)
	})
}

func (g *Guard) MarkRead(ctx context.Context, ids []string) (ActionResult, error) {
	return g.mutate(ctx, "mark_read", func(ctx context.Context) (ActionResult, error) {
		return g.inner.MarkRead(ctx, ids)
	})
}

func (g *Guard) MarkUnread(ctx context.Context, ids []string) (ActionResult, error) {
	return g.mutate(ctx, "mark_unread", func(ctx context.Context) (ActionResult, error) {
		return g.inner.MarkUnread(ctx, ids)
	})
}

func (g *Guard) Star(ctx context.Context, ids []string) (ActionResult, error) {
	return g.mutate(ctx, "star", func(ctx context.Context) (ActionResult, error) {
		return g.inner.Star(ctx, ids)
	})
}

func (g *Guard) Unstar(ctx context.Context, ids []string) (ActionResult, error) {
	return g.mutate(ctx, "unstar", func(ctx context.Context) (ActionResult, error) {
		return g.inner.Unstar(ctx, ids)
	})
}

func (g *Guard) Close() {
	g.inner.Close()
}
