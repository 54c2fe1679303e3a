package sourcetest

import (
	"context"
	"testing"

	"github.com/amaumene/totalrecall/internal/models"
)

func TestRatingsCrossTheNativeScale(t *testing.T) {
	f := New("c")
	f.Scale = 5
	f.Ratings = []models.Rating{{IMDbID: "tt1", Value: 4}, {IMDbID: "tt2", Value: 1}}

	got, err := f.GetRatings(context.Background())
	if err != nil {
		t.Fatalf("GetRatings failed: %v", err)
	}
	if got[0].Value != 8 || got[1].Value != 2 {
		t.Errorf("Expected canonical 8 and 2, got %d and %d", got[0].Value, got[1].Value)
	}
	if f.Ratings[0].Value != 4 {
		t.Errorf("Expected stored ratings to stay native, got %d", f.Ratings[0].Value)
	}

	if err := f.SetRatings(context.Background(), []models.Rating{{IMDbID: "tt3", Value: 6}}); err != nil {
		t.Fatalf("SetRatings failed: %v", err)
	}
	if n := len(f.WrittenRatings); n != 1 || f.WrittenRatings[0].Value != 3 {
		t.Errorf("Expected 6 written as 3, got %+v", f.WrittenRatings)
	}
}
