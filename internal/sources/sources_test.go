package sources_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/amaumene/totalrecall/internal/sources"
	"github.com/amaumene/totalrecall/internal/sources/sourcetest"
)

func TestScaleNormalization(t *testing.T) {
	five := sources.ScaleNormalizer{Scale: 5}

	if got := five.NormalizeRating(4, 10); got != 8 {
		t.Errorf("Expected 4/5 to normalize to 8, got %d", got)
	}
	if got := five.DenormalizeRating(8, 10); got != 4 {
		t.Errorf("Expected 8/10 to denormalize to 4, got %v", got)
	}
}

func TestRatingRoundTrip(t *testing.T) {
	for _, scale := range []int{1, 2, 4, 5, 10} {
		n := sources.ScaleNormalizer{Scale: scale}
		for r := 1; r <= scale; r++ {
			canonical := n.NormalizeRating(float64(r), sources.CanonicalScale)
			if back := int(n.DenormalizeRating(canonical, sources.CanonicalScale)); back != r {
				t.Errorf("scale %d: %d -> %d -> %d", scale, r, canonical, back)
			}
		}
	}
}

func TestHalfPointsRoundToNearest(t *testing.T) {
	ten := sources.ScaleNormalizer{Scale: 10}
	if got := ten.NormalizeRating(7.5, 10); got != 8 {
		t.Errorf("Expected 7.5 to round to 8, got %d", got)
	}
	if got := ten.NormalizeRating(0.2, 10); got != 1 {
		t.Errorf("Expected ratings to clamp to 1, got %d", got)
	}
}

type plain struct{ sources.Source }

func TestCapabilityDiscovery(t *testing.T) {
	fake := sourcetest.New("a")
	fake.Scale = 5
	fake.Priority = 70

	h := sources.NewHandle(fake)
	if got := sources.RatingNormalizerOf(h).NativeRatingScale(); got != 5 {
		t.Errorf("Expected the handle to expose the fake's scale, got %d", got)
	}
	if sources.IDLookupProviderOf(h) == nil {
		t.Error("Expected the lookup capability through the handle")
	}
	if sources.NewHandle(h) != h {
		t.Error("Wrapping a handle twice must return the same handle")
	}

	bare := plain{}
	if got := sources.RatingNormalizerOf(bare).NativeRatingScale(); got != sources.CanonicalScale {
		t.Errorf("Expected identity normalizer for adapters without the capability, got %d", got)
	}
	if sources.IncrementalSyncerOf(bare) != nil || sources.IDLookupProviderOf(bare) != nil {
		t.Error("Expected nil capabilities for a bare adapter")
	}
}

func TestHandleForwardsForceFullSync(t *testing.T) {
	fake := sourcetest.New("a")
	h := sources.NewHandle(fake)
	h.SetForceFullSync(true)
	if !fake.ForceFull {
		t.Error("Expected force flag to reach the adapter")
	}
	if err := h.Authenticate(context.Background()); err != nil || fake.Authenticated != 1 {
		t.Errorf("Expected one authentication, got %d (%v)", fake.Authenticated, err)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	rateLimited := &sources.APIError{Service: "trakt", StatusCode: http.StatusTooManyRequests}
	if !rateLimited.IsRetryable() || !errors.Is(rateLimited, sources.ErrRateLimited) {
		t.Error("Expected 429 to be retryable and a capacity error")
	}

	notFound := &sources.APIError{Service: "trakt", StatusCode: http.StatusNotFound}
	if notFound.IsRetryable() || sources.IsCapacityError(notFound) {
		t.Error("Expected 404 to be a plain failure")
	}
}
