package workers

import (
	"context"
	"log/slog"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"

	"golang.org/x/sync/errgroup"
)

// TranslationRequest is one (text, source, target) rendering needed by a fan-out.
type TranslationRequest struct {
	Text   string
	Source domain.Language
	Target domain.Language
}

// TranslationFanout resolves a batch of translation requests concurrently.
//
// Identical requests inside one batch share a single Translator call, requests
// whose source equals their target never reach the Translator, and every call
// is bounded by timeout: a late or failed call resolves to the original text.
// There is no retry.
type TranslationFanout struct {
	translator    contract.Translator
	log           *slog.Logger
	timeout       time.Duration
	maxConcurrent int
}

func NewTranslationFanout(translator contract.Translator, log *slog.Logger, timeout time.Duration, maxConcurrent int) *TranslationFanout {
	return &TranslationFanout{translator: translator, log: log, timeout: timeout, maxConcurrent: maxConcurrent}
}

// Resolve returns one rendered text per request, in request order.
// It returns only once every distinct call has completed or timed out.
func (f *TranslationFanout) Resolve(ctx context.Context, requests []TranslationRequest) []string {
	out := make([]string, len(requests))
	pending := make(map[TranslationRequest][]int)
	for i, r := range requests {
		if r.Source == r.Target {
			out[i] = r.Text
			continue
		}
		pending[r] = append(pending[r], i)
	}
	if len(pending) == 0 {
		return out
	}

	var g errgroup.Group
	if f.maxConcurrent > 0 {
		g.SetLimit(f.maxConcurrent)
	}
	for r, indexes := range pending {
		// Each goroutine writes a disjoint set of indexes.
		g.Go(func() error {
			translated := f.translate(ctx, r)
			for _, i := range indexes {
				out[i] = translated
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// translate abandons the call once the timeout expires, even if the
// Translator ignores its context.
func (f *TranslationFanout) translate(ctx context.Context, r TranslationRequest) string {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	result := make(chan string, 1)
	go func() {
		result <- f.translator.Translate(ctx, r.Text, r.Source, r.Target)
	}()

	select {
	case translated := <-result:
		return translated
	case <-ctx.Done():
		f.log.Warn("Translation abandoned, delivering original text",
			"source", r.Source, "target", r.Target, "error", ctx.Err())
		return r.Text
	}
}
