// Package identity rotates proxy / user-agent pairs across fetch attempts.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-price-harvester/models"
)

// ErrNoIdentityAvailable is returned by Next when no identity survives a re-probe.
var ErrNoIdentityAvailable = errors.New("identity: no live identity available")

// probeConcurrency bounds parallel liveness probes during a re-probe cycle.
const probeConcurrency = 4

// Prober checks whether an identity can reach the outside world.
type Prober interface {
	Probe(ctx context.Context, id models.Identity) error
}

// Recorder receives identity failure notifications.
type Recorder interface {
	IncIdentityFailure()
}

// Build pairs proxies with user agents round-robin. With no proxies it
// returns one direct identity per user agent.
func Build(proxies, userAgents []string) []models.Identity {
	if len(userAgents) == 0 {
		userAgents = []string{""}
	}
	if len(proxies) == 0 {
		ids := make([]models.Identity, len(userAgents))
		for i, ua := range userAgents {
			ids[i] = models.Identity{ID: i, UserAgent: ua}
		}
		return ids
	}
	ids := make([]models.Identity, len(proxies))
	for i, proxy := range proxies {
		ids[i] = models.Identity{ID: i, Proxy: proxy, UserAgent: userAgents[i%len(userAgents)]}
	}
	return ids
}

// Rotator hands out live identities at random. Liveness changes only through
// ReportFailure and re-probe cycles, both serialised by mu.
type Rotator struct {
	identities []models.Identity
	prober     Prober
	metrics    Recorder

	mu   sync.Mutex
	live map[int]bool

	// generation counts completed re-probe cycles so concurrent callers that
	// saw the same exhaustion share one cycle. Guarded by mu.
	generation int

	probeMu sync.Mutex
}

// NewRotator returns a rotator with every identity initially live.
func NewRotator(identities []models.Identity, prober Prober, metrics Recorder) *Rotator {
	live := make(map[int]bool, len(identities))
	for _, id := range identities {
		live[id.ID] = true
	}
	return &Rotator{
		identities: identities,
		prober:     prober,
		metrics:    metrics,
		live:       live,
	}
}

// Next returns a uniformly random live identity. When none is live it runs
// one liveness re-probe over every identity and tries again once.
func (r *Rotator) Next(ctx context.Context) (models.Identity, error) {
	id, ok, gen := r.pick()
	if ok {
		return id, nil
	}

	if err := r.reprobe(ctx, gen); err != nil {
		return models.Identity{}, err
	}

	id, ok, _ = r.pick()
	if !ok {
		slog.Error("no live identity after re-probe, systemic proxy failure",
			slog.Int("identities", len(r.identities)),
		)
		return models.Identity{}, ErrNoIdentityAvailable
	}
	return id, nil
}

// ReportFailure marks id dead until the next re-probe cycle.
func (r *Rotator) ReportFailure(id models.Identity) {
	r.mu.Lock()
	wasLive := r.live[id.ID]
	r.live[id.ID] = false
	r.mu.Unlock()

	if !wasLive {
		return
	}
	slog.Warn("identity marked dead",
		slog.Int("identity", id.ID),
		slog.String("proxy", redactProxy(id.Proxy)),
	)
	if r.metrics != nil {
		r.metrics.IncIdentityFailure()
	}
}

// Live returns the number of identities currently marked live.
func (r *Rotator) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, alive := range r.live {
		if alive {
			n++
		}
	}
	return n
}

// ProbeCycles returns how many re-probe cycles have run.
func (r *Rotator) ProbeCycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *Rotator) pick() (models.Identity, bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]models.Identity, 0, len(r.identities))
	for _, id := range r.identities {
		if r.live[id.ID] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return models.Identity{}, false, r.generation
	}
	return candidates[rand.Intn(len(candidates))], true, 0
}

func (r *Rotator) reprobe(ctx context.Context, seen int) error {
	r.probeMu.Lock()
	defer r.probeMu.Unlock()

	r.mu.Lock()
	done := r.generation != seen
	r.mu.Unlock()
	if done {
		return nil
	}

	slog.Info("all identities dead, re-probing", slog.Int("identities", len(r.identities)))

	results := make([]bool, len(r.identities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, id := range r.identities {
		i, id := i, id // per-iteration copy; module targets go 1.21 loop semantics
		g.Go(func() error {
			if r.prober == nil {
				results[i] = true
				return nil
			}
			if err := r.prober.Probe(gctx, id); err != nil {
				slog.Debug("identity probe failed",
					slog.Int("identity", id.ID),
					slog.String("proxy", redactProxy(id.Proxy)),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	alive := 0
	for i, id := range r.identities {
		r.live[id.ID] = results[i]
		if results[i] {
			alive++
		}
	}
	r.generation++
	r.mu.Unlock()

	slog.Info("identity re-probe complete", slog.Int("live", alive), slog.Int("identities", len(r.identities)))
	return nil
}
