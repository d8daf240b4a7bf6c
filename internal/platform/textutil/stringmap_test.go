package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" bookingId ": " bk_1 ",
			"campId":      " camp_9 ",
			"empty":       " ",
			" ":           "ignored",
		}

		expected := map[string]string{
			"bookingId": "bk_1",
			"campId":    "camp_9",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("clips to gateway limits", func(t *testing.T) {
		longKey := strings.Repeat("k", MaxMetadataKeyRunes+5)
		got := NormalizeStringMap(map[string]string{
			longKey: strings.Repeat("ر", MaxMetadataValueRunes+10),
		})
		if len(got) != 1 {
			t.Fatalf("expected one entry, got %#v", got)
		}
		for key, value := range got {
			if key != strings.Repeat("k", MaxMetadataKeyRunes) {
				t.Fatalf("unexpected key %q", key)
			}
			if n := len([]rune(value)); n != MaxMetadataValueRunes {
				t.Fatalf("expected %d runes, got %d", MaxMetadataValueRunes, n)
			}
		}
	})

	t.Run("returns nil when nothing survives", func(t *testing.T) {
		if got := NormalizeStringMap(map[string]string{"": "x", "k": " "}); got != nil {
			t.Fatalf("expected nil, got %#v", got)
		}
	})
}

func TestPlainText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"strips markup", `<b>Sandstorm</b> forecast <script>alert(1)</script>`, 0, "Sandstorm forecast"},
		{"keeps entities readable", "Tom & Jerry's trip", 0, "Tom & Jerry's trip"},
		{"collapses whitespace", "  family \t emergency \r\n\r\n  sorry  ", 0, "family emergency\nsorry"},
		{"arabic passes through", "ظروف   طارئة", 0, "ظروف طارئة"},
		{"truncates by rune", "ظروف طارئة", 4, "ظروف"},
		{"blank", "   ", 0, ""},
	}
	for _, tc := range cases {
		if got := PlainText(tc.input, tc.limit); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
	if got := PlainText(strings.Repeat("a", 600), 500); len(got) != 500 {
		t.Fatalf("expected 500 runes, got %d", len(got))
	}
}
