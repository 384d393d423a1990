package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "nybot/internal/transport"
	logx "nybot/pkg/logx"
)

func TestContentType(t *testing.T) {
	cases := []struct {
		msg  *tele.Message
		want string
	}{
		{&tele.Message{Text: "hi"}, "text"},
		{&tele.Message{Photo: &tele.Photo{}, Caption: "c"}, "photo"},
		{&tele.Message{Sticker: &tele.Sticker{}}, "sticker"},
		{&tele.Message{Voice: &tele.Voice{}}, "voice"},
		{&tele.Message{Document: &tele.Document{}}, "document"},
		{&tele.Message{Location: &tele.Location{}}, "location"},
		{&tele.Message{}, "unknown"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ContentType(tc.msg))
	}
}

func TestConvertMessage(t *testing.T) {
	m := &tele.Message{
		ID:       7,
		Text:     "/start",
		Unixtime: 1700000000,
		Chat:     &tele.Chat{ID: 99},
		Sender:   &tele.User{ID: 42, FirstName: "Ann", Username: "ann"},
	}
	got := convertMessage(m)
	require.Equal(t, 7, got.ID)
	require.Equal(t, int64(99), got.ChatID)
	require.NotNil(t, got.From)
	require.Equal(t, int64(42), got.From.ID)
	require.Equal(t, "ann", got.From.Username)
	require.Equal(t, "text", got.ContentType)
	require.Equal(t, int64(1700000000), got.Date.Unix())
}

func TestSendOptionsInlineKeyboard(t *testing.T) {
	so := sendOptions(&kit.SendOptions{
		InlineKeyboard: [][]kit.InlineButton{{{Text: "go", Data: "get_greeting"}}},
	})
	require.NotNil(t, so.ReplyMarkup)
	require.Len(t, so.ReplyMarkup.InlineKeyboard, 1)
	require.Equal(t, "get_greeting", so.ReplyMarkup.InlineKeyboard[0][0].Data)

	require.Nil(t, sendOptions(&kit.SendOptions{}).ReplyMarkup)
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	var calls atomic.Int32
	var lastScope atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/botT/setMyCommands", r.URL.Path)
		var body struct {
			Commands []map[string]string `json:"commands"`
			Scope    struct {
				Type string `json:"type"`
			} `json:"scope"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastScope.Store(body.Scope.Type)
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	a := &Adapter{
		cfg:      Config{Token: "T", APIURL: srv.URL},
		log:      logx.Nop(),
		menuHash: map[kit.CommandScope]uint64{},
		http:     srv.Client(),
	}
	cmds := []kit.BotCommand{{Command: "info", Description: "about"}}
	ctx := context.Background()

	require.NoError(t, a.UpdateMenuCommands(ctx, kit.ScopeDefault, cmds))
	require.NoError(t, a.UpdateMenuCommands(ctx, kit.ScopeDefault, cmds))
	require.Equal(t, int32(1), calls.Load())

	require.NoError(t, a.UpdateMenuCommands(ctx, kit.ScopeAllPrivateChats, cmds))
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, "all_private_chats", lastScope.Load())
}

func TestUpdateMenuCommandsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"bad"}`))
	}))
	defer srv.Close()

	a := &Adapter{
		cfg:      Config{Token: "T", APIURL: srv.URL},
		log:      logx.Nop(),
		menuHash: map[kit.CommandScope]uint64{},
		http:     srv.Client(),
	}
	err := a.UpdateMenuCommands(context.Background(), kit.ScopeDefault, []kit.BotCommand{{Command: "greet"}})
	require.ErrorContains(t, err, "bad")
}
