package adminapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nybot/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

func intQuery(c *gin.Context, key string, def, lo, hi int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || (hi > 0 && v > hi) {
		return 0, ErrInvalidQuery
	}
	return v, nil
}

func pageQuery(c *gin.Context) (storage.Page, error) {
	limit, err := intQuery(c, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		return storage.Page{}, err
	}
	offset, err := intQuery(c, "offset", 0, 0, 0)
	if err != nil {
		return storage.Page{}, err
	}
	return storage.Page{Limit: limit, Offset: offset}, nil
}

func userIDQuery(c *gin.Context) (*int64, error) {
	raw, ok := c.GetQuery("tg_user_id")
	if !ok {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, ErrInvalidQuery
	}
	return &v, nil
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newList[T any](items []T, p storage.Page) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Limit: p.Limit, Offset: p.Offset}
}

func (s *Server) reader(c *gin.Context) (storage.Reader, bool) {
	if s.store == nil {
		abortWith(c, ErrDBNotReady)
		return nil, false
	}
	return s.store, true
}

func (s *Server) listUsers(c *gin.Context) {
	p, err := pageQuery(c)
	if err != nil {
		abortWith(c, err)
		return
	}
	db, ok := s.reader(c)
	if !ok {
		return
	}
	users, err := db.ListUsers(c.Request.Context(), p)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, newList(users, p))
}

func (s *Server) userDetails(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("tg_user_id"), 10, 64)
	if err != nil {
		abortWith(c, ErrInvalidQuery)
		return
	}
	p, err := pageQuery(c)
	if err != nil {
		abortWith(c, err)
		return
	}
	db, ok := s.reader(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := db.GetUser(ctx, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	greetings, err := db.ListGreetings(ctx, p, storage.GreetingFilter{TgUserID: &id})
	if err != nil {
		abortWith(c, err)
		return
	}
	messages, err := db.ListMessages(ctx, p, storage.MessageFilter{TgUserID: &id})
	if err != nil {
		abortWith(c, err)
		return
	}
	if greetings == nil {
		greetings = []storage.Greeting{}
	}
	if messages == nil {
		messages = []storage.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "greetings": greetings, "messages": messages})
}

func (s *Server) listGreetings(c *gin.Context) {
	p, err := pageQuery(c)
	if err != nil {
		abortWith(c, err)
		return
	}
	uid, err := userIDQuery(c)
	if err != nil {
		abortWith(c, err)
		return
	}
	db, ok := s.reader(c)
	if !ok {
		return
	}
	items, err := db.ListGreetings(c.Request.Context(), p, storage.GreetingFilter{TgUserID: uid})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, newList(items, p))
}

func (s *Server) listMessages(c *gin.Context) {
	p, err := pageQuery(c)
	if err != nil {
		abortWith(c, err)
		return
	}
	uid, err := userIDQuery(c)
	if err != nil {
		abortWith(c, err)
		return
	}
	f := storage.MessageFilter{TgUserID: uid}
	if mt, ok := c.GetQuery("message_type"); ok {
		f.MessageType = &mt
	}
	db, ok := s.reader(c)
	if !ok {
		return
	}
	items, err := db.ListMessages(c.Request.Context(), p, f)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, newList(items, p))
}

func (s *Server) stats(c *gin.Context) {
	db, ok := s.reader(c)
	if !ok {
		return
	}
	st, err := db.Stats(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	if st.TopUsers == nil {
		st.TopUsers = []storage.UserGreetings{}
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) health(c *gin.Context) {
	db := "not_ready"
	if s.store != nil && s.store.Ping(c.Request.Context()) == nil {
		db = "ok"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "db": db})
}
