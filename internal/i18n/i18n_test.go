package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("id"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateIndonesian(t *testing.T) {
	ctx := initLang(t, "id")

	if got := T(ctx, "AppTitle"); got != "Ujian Esai" {
		t.Errorf("T(AppTitle) = %q, want 'Ujian Esai'", got)
	}
	if got := T(ctx, "ErrExamNotOpen"); got != "Ujian belum dimulai." {
		t.Errorf("T(ErrExamNotOpen) = %q", got)
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Essay Exam" {
		t.Errorf("T(AppTitle) = %q, want 'Essay Exam'", got)
	}
}

func TestFallbackToDefault(t *testing.T) {
	ctx := initLang(t, "fr")

	if got := T(ctx, "AppTitle"); got != "Ujian Esai" {
		t.Errorf("T(AppTitle) = %q, want default language", got)
	}
	if got := T(context.Background(), "AppTitle"); got != "Ujian Esai" {
		t.Errorf("T without localizer = %q, want default language", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsUploaded", 1); got != "1 question uploaded." {
		t.Errorf("Tp(QuestionsUploaded, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsUploaded", 5); got != "5 questions uploaded." {
		t.Errorf("Tp(QuestionsUploaded, 5) = %q", got)
	}

	idCtx := initLang(t, "id")
	if got := Tp(idCtx, "QuestionsUploaded", 1); got != "1 soal berhasil diunggah." {
		t.Errorf("Tp(QuestionsUploaded, 1) id = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "StudentRegistered", map[string]any{"Name": "Budi"})
	if got != "Student Budi registered." {
		t.Errorf("Td(StudentRegistered) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestSupported(t *testing.T) {
	initLang(t, "id")
	for lang, want := range map[string]bool{"id": true, "en": true, "en-US": true, "fr": false, "??": false} {
		if got := Supported(lang); got != want {
			t.Errorf("Supported(%q) = %v, want %v", lang, got, want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "id")

	var got string
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "AppTitle")
	}))

	tests := []struct {
		header string
		want   string
	}{
		{"", "Ujian Esai"},
		{"en-US,en;q=0.9", "Essay Exam"},
		{"de-DE", "Ujian Esai"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Accept-Language", tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != tt.want {
			t.Errorf("Accept-Language %q: got %q, want %q", tt.header, got, tt.want)
		}
	}
}
