package util

import "testing"

func TestJoinName(t *testing.T) {
	cases := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "full", parts: []string{"Иванов", "Иван", "Иванович"}, want: "Иванов Иван Иванович"},
		{name: "no patronymic", parts: []string{"Иванов", "Иван", ""}, want: "Иванов Иван"},
		{name: "missing surname", parts: []string{"", "Иван", "Иванович"}, want: "Иван Иванович"},
		{name: "inner spaces", parts: []string{" Петрова ", "Анна  Мария"}, want: "Петрова Анна Мария"},
		{name: "empty", parts: nil, want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := JoinName(tc.parts...); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeTIN(t *testing.T) {
	if got := NormalizeTIN(" 1234 567890 "); got != "1234567890" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeTIN(`"7710349494"`); got != "7710349494" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeTIN("   "); got != "" {
		t.Fatalf("got %q", got)
	}
}
