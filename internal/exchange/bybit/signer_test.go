package bybit

import "testing"

func TestSignKnownVectors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "query string",
			payload: "a=1&b=2",
			want:    "1abf478410d07aa8ce57903f06ff2ccbd2977985153e56f4c441a15112fca302",
		},
		{
			name:    "json body",
			payload: `{"symbol":"BTCUSDT"}`,
			want:    "4d8fae4bb45a2bdad91a4d950bb104628d2e233eda9a11f3648f6e6abca6b918",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Sign("secret", "1700000000000", "key", "5000", tc.payload)
			if got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSignDependsOnEveryInput(t *testing.T) {
	base := Sign("secret", "1700000000000", "key", "5000", "a=1")
	variants := []string{
		Sign("other", "1700000000000", "key", "5000", "a=1"),
		Sign("secret", "1700000000001", "key", "5000", "a=1"),
		Sign("secret", "1700000000000", "key2", "5000", "a=1"),
		Sign("secret", "1700000000000", "key", "6000", "a=1"),
		Sign("secret", "1700000000000", "key", "5000", "a=2"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d did not change the signature", i)
		}
	}
}

func TestCanonicalQuerySorted(t *testing.T) {
	got := canonicalQuery(map[string]string{
		"symbol":   "BTCUSDT",
		"category": "linear",
		"limit":    "200",
	})
	want := "category=linear&limit=200&symbol=BTCUSDT"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
