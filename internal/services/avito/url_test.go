package avito

import "testing"

func TestCatalogPageURL(t *testing.T) {
	tests := []struct {
		name      string
		articulum string
		page      int
		expected  string
	}{
		{
			name:      "First page omits the page param",
			articulum: "KNK-2190",
			page:      1,
			expected:  "https://www.avito.ru/rossiya?q=KNK-2190&s=104",
		},
		{
			name:      "Later page carries it",
			articulum: "KNK-2190",
			page:      3,
			expected:  "https://www.avito.ru/rossiya?p=3&q=KNK-2190&s=104",
		},
		{
			name:      "Spaces in the articulum are escaped",
			articulum: "1K0 998 262",
			page:      1,
			expected:  "https://www.avito.ru/rossiya?q=1K0+998+262&s=104",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CatalogPageURL(tt.articulum, tt.page); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}

	if got, want := BuildCatalogURL("KNK-2190"), CatalogPageURL("KNK-2190", 1); got != want {
		t.Errorf("BuildCatalogURL should match page 1: %s vs %s", got, want)
	}
}

func TestBuildItemURL(t *testing.T) {
	if got, want := BuildItemURL("4567001"), "https://www.avito.ru/4567001"; got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
