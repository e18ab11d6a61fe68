package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

func TestFileRefPrefersFileID(t *testing.T) {
	t.Parallel()

	f := fileRef(storage.QueuedPost{FileID: "abc", FilePath: "/tmp/x.jpg"})
	if f.FileID != "abc" {
		t.Fatalf("FileID = %q, want abc", f.FileID)
	}

	f = fileRef(storage.QueuedPost{FilePath: "/tmp/x.jpg"})
	if f.FileLocal != "/tmp/x.jpg" {
		t.Fatalf("FileLocal = %q, want /tmp/x.jpg", f.FileLocal)
	}
}

func TestSendOptionsEntitiesWinOverParseMode(t *testing.T) {
	t.Parallel()

	post := storage.QueuedPost{
		CaptionParseMode: "markdownv2",
		CaptionEntities:  `[{"type":"bold","offset":0,"length":4}]`,
	}
	opts := sendOptions(post)
	if len(opts.Entities) != 1 || opts.Entities[0].Type != tele.EntityBold {
		t.Fatalf("entities = %#v, want one bold entity", opts.Entities)
	}
	if opts.ParseMode != tele.ModeDefault {
		t.Fatalf("parse mode = %q, want unset when entities are present", opts.ParseMode)
	}
}

func TestSendOptionsParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stored string
		want   tele.ParseMode
	}{
		{"markdownv2", tele.ModeMarkdownV2},
		{"MarkdownV2", tele.ModeMarkdownV2},
		{"html", tele.ModeHTML},
		{"", tele.ModeDefault},
		{"unknown", tele.ModeDefault},
	}
	for _, tt := range tests {
		opts := sendOptions(storage.QueuedPost{CaptionParseMode: tt.stored})
		if opts.ParseMode != tt.want {
			t.Errorf("parseMode(%q) = %q, want %q", tt.stored, opts.ParseMode, tt.want)
		}
	}
}

func TestDecodeAlbum(t *testing.T) {
	t.Parallel()

	raw := `[
		{"type":"photo","file_id":"p1","caption":"first"},
		{"type":"video","file_id":"v1"}
	]`
	album, err := decodeAlbum(raw)
	if err != nil {
		t.Fatalf("decodeAlbum: %v", err)
	}
	if len(album) != 2 {
		t.Fatalf("album length = %d, want 2", len(album))
	}
	photo, ok := album[0].(*tele.Photo)
	if !ok || photo.FileID != "p1" || photo.Caption != "first" {
		t.Fatalf("album[0] = %#v, want photo p1 with caption", album[0])
	}
	if _, ok := album[1].(*tele.Video); !ok {
		t.Fatalf("album[1] = %#v, want video", album[1])
	}
}

func TestDecodeAlbumErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not json", "[]", `[{"type":"sticker","file_id":"s1"}]`} {
		if _, err := decodeAlbum(raw); err == nil {
			t.Errorf("decodeAlbum(%q) succeeded, want error", raw)
		}
	}
}

func TestLooksLikeCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"123e4567-e89b-12d3-a456-426614174000", true},
		{"123E4567-E89B-12D3-A456-426614174000", true},
		{"hello channel", false},
		{"123e4567e89b12d3a456426614174000", false},
		{"123e4567-e89b-12d3-a456-42661417400g", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksLikeCode(tt.in); got != tt.want {
			t.Errorf("looksLikeCode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidChannelRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"@mychannel", true},
		{"-1001234567890", true},
		{"@", false},
		{"1234", false},
		{"mychannel", false},
	}
	for _, tt := range tests {
		if got := validChannelRef(tt.in); got != tt.want {
			t.Errorf("validChannelRef(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPostFromMessage(t *testing.T) {
	t.Parallel()

	msg := &tele.Message{
		Photo:   &tele.Photo{File: tele.File{FileID: "p1"}},
		Caption: "hi",
		CaptionEntities: tele.Entities{
			{Type: tele.EntityBold, Offset: 0, Length: 2},
		},
	}
	post, ok := postFromMessage(msg)
	if !ok {
		t.Fatal("postFromMessage returned !ok for a photo")
	}
	if post.MediaType != "photo" || post.FileID != "p1" || post.Caption != "hi" {
		t.Fatalf("post = %#v", post)
	}
	if post.CaptionEntities == "" {
		t.Fatal("caption entities not serialized")
	}

	if _, ok := postFromMessage(&tele.Message{Text: "plain"}); ok {
		t.Fatal("postFromMessage accepted a text message")
	}
}
