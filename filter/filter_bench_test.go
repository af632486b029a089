package filter

import "testing"

func benchmarkAllows(b *testing.B, opts Options) {
	f, err := New(opts)
	if err != nil {
		b.Fatal(err)
	}
	raw := []byte(replyEmail)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(raw)
	}
}

func BenchmarkAllows_NoFilters(b *testing.B) {
	benchmarkAllows(b, Options{})
}

func BenchmarkAllows_AutoReplies(b *testing.B) {
	benchmarkAllows(b, Options{SkipAutoReplies: true})
}

func BenchmarkAllows_IncludeBody(b *testing.B) {
	benchmarkAllows(b, Options{IncludeBody: []string{"Thanks.*"}})
}

func BenchmarkSplitRawMessage(b *testing.B) {
	raw := []byte(replyEmail)
	for i := 0; i < b.N; i++ {
		SplitRawMessage(raw)
	}
}
