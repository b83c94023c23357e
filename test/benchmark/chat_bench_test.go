package benchmark

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/doctalk/internal/chat"
	"github.com/hyperjump/doctalk/internal/extract"
	"github.com/hyperjump/doctalk/internal/llm"
	"github.com/hyperjump/doctalk/internal/models"
	"github.com/hyperjump/doctalk/internal/session"
)

func BenchmarkBuildMessages(b *testing.B) {
	doc := models.NewDocument("big.txt", strings.Repeat("lorem ipsum dolor sit amet ", 20000), "")
	history := make([]models.Turn, 0, 40)
	for i := 0; i < 20; i++ {
		history = append(history,
			models.Turn{Role: models.RoleUser, Content: "question"},
			models.Turn{Role: models.RoleAssistant, Content: "answer"},
		)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = chat.BuildMessages("persona", doc, history, "next question")
	}
}

func BenchmarkStreamRelay(b *testing.B) {
	fragments := make([]string, 500)
	for i := range fragments {
		fragments[i] = "tok "
	}
	svc := chat.NewService(session.NewStore(), llm.NewMockClient(fragments...), extract.NewExtractor())
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Complete(ctx, "q"); err != nil {
			b.Fatal(err)
		}
		svc.Reset()
	}
}

func BenchmarkExtractPlain(b *testing.B) {
	content := []byte(strings.Repeat("Plain text with ünïcödé characters.\n", 10000))
	e := extract.NewExtractor()
	b.SetBytes(int64(len(content)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.ExtractBytes(content, "doc.txt"); err != nil {
			b.Fatal(err)
		}
	}
}
