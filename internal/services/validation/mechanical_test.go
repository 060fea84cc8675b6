package validation

import (
	"strings"
	"testing"

	"github.com/ternarybob/colligo/internal/models"
)

func TestNormalizeForMatch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"KNK-2190", "knk2190"},
		{"КНК-2190", "khk2190"}, // Cyrillic К,Н,К fold to their Latin lookalikes
		{"АВС 123", "abc123"},
		{"Sea Doo 300!", "seadoo300"},
		{"ёлка", "eлka"}, // л has no Latin twin and stays Cyrillic
		{"  ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizeForMatch(tt.in); got != tt.want {
			t.Errorf("normalizeForMatch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuartilesExclusiveMethod(t *testing.T) {
	tests := []struct {
		sorted []float64
		q1, q3 float64
	}{
		{[]float64{1, 2, 3, 4}, 1.25, 3.75},
		{[]float64{10, 20, 30, 40, 50}, 15, 45},
		{[]float64{100, 200, 300, 400}, 125, 375},
	}

	for _, tt := range tests {
		q1, q3 := quartiles(tt.sorted)
		if q1 != tt.q1 || q3 != tt.q3 {
			t.Errorf("quartiles(%v) = %v, %v, want %v, %v", tt.sorted, q1, q3, tt.q1, tt.q3)
		}
	}
}

func TestComputePriceStats(t *testing.T) {
	if got := computePriceStats(nil); got != nil {
		t.Fatalf("stats over no prices = %+v, want nil", got)
	}

	// Fewer than four points: plain median bounds.
	few := computePriceStats([]float64{1000, 2000, 3000})
	if few.reference != 2000 || few.upperBound != 6000 {
		t.Fatalf("few-point stats = %+v, want reference 2000 upper 6000", few)
	}

	// Four clean points: Q1=125, Q3=375, IQR bound 625, top-40% is the
	// single highest price.
	clean := computePriceStats([]float64{100, 200, 300, 400})
	if clean.reference != 400 || clean.upperBound != 625 {
		t.Fatalf("clean stats = %+v, want reference 400 upper 625", clean)
	}

	// One absurd price: it survives the wide IQR band but the 2.5x
	// median pass drops it from the reference, not from the bound.
	skewed := computePriceStats([]float64{100, 200, 300, 400, 5000})
	if skewed.reference != 400 || skewed.upperBound != 5250 {
		t.Fatalf("skewed stats = %+v, want reference 400 upper 5250", skewed)
	}
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

func TestMechanicalChecker(t *testing.T) {
	stats := &priceStats{reference: 10000, upperBound: 19000}

	tests := []struct {
		name       string
		checker    *mechanicalChecker
		listing    models.CatalogListing
		wantReason string // substring, "" means pass
	}{
		{
			name:    "clean listing passes",
			checker: newMechanicalChecker("KHK-2190", false, []string{"копия"}, 0, stats),
			listing: models.CatalogListing{Title: "Катализатор KHK-2190", Price: ptrFloat(12000)},
		},
		{
			name:       "stopword in title",
			checker:    newMechanicalChecker("KHK-2190", false, []string{"копия", "реплика"}, 0, nil),
			listing:    models.CatalogListing{Title: "Копия катализатора", Price: ptrFloat(12000)},
			wantReason: "стоп-слово",
		},
		{
			name:       "stopword in seller name",
			checker:    newMechanicalChecker("KHK-2190", false, []string{"реплика"}, 0, nil),
			listing:    models.CatalogListing{Title: "Катализатор", SellerName: "Реплика-Шоп", Price: ptrFloat(12000)},
			wantReason: "реплика",
		},
		{
			name:       "articulum missing from text",
			checker:    newMechanicalChecker("KHK-2190", true, nil, 0, nil),
			listing:    models.CatalogListing{Title: "Катализатор без номера", SnippetText: "оригинал"},
			wantReason: "Артикул",
		},
		{
			name:    "articulum typed with cyrillic lookalikes",
			checker: newMechanicalChecker("KHK-2190", true, nil, 0, nil),
			listing: models.CatalogListing{Title: "Катализатор КНК-2190 оригинал"},
		},
		{
			name:       "seller reviews unknown",
			checker:    newMechanicalChecker("", false, nil, 10, nil),
			listing:    models.CatalogListing{Title: "Катализатор"},
			wantReason: "N/A < 10",
		},
		{
			name:       "seller reviews below floor",
			checker:    newMechanicalChecker("", false, nil, 10, nil),
			listing:    models.CatalogListing{Title: "Катализатор", SellerReviews: ptrInt(3)},
			wantReason: "3 < 10",
		},
		{
			name:    "seller reviews at floor",
			checker: newMechanicalChecker("", false, nil, 10, nil),
			listing: models.CatalogListing{Title: "Катализатор", SellerReviews: ptrInt(10)},
		},
		{
			name:       "suspiciously cheap",
			checker:    newMechanicalChecker("", false, nil, 0, stats),
			listing:    models.CatalogListing{Title: "Катализатор", Price: ptrFloat(3000)},
			wantReason: "Подозрительно низкая цена",
		},
		{
			name:       "price above IQR bound",
			checker:    newMechanicalChecker("", false, nil, 0, stats),
			listing:    models.CatalogListing{Title: "Катализатор", Price: ptrFloat(25000)},
			wantReason: "Выброс по цене",
		},
		{
			name:    "nil price skips price checks",
			checker: newMechanicalChecker("", false, nil, 0, stats),
			listing: models.CatalogListing{Title: "Катализатор"},
		},
		{
			name:    "no stats skips price checks",
			checker: newMechanicalChecker("", false, nil, 0, nil),
			listing: models.CatalogListing{Title: "Катализатор", Price: ptrFloat(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.checker.check(&tt.listing)
			if tt.wantReason == "" {
				if got != "" {
					t.Fatalf("check() rejected with %q, want pass", got)
				}
				return
			}
			if !strings.Contains(got, tt.wantReason) {
				t.Fatalf("check() = %q, want substring %q", got, tt.wantReason)
			}
		})
	}
}
