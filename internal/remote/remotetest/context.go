package remotetest

import (
	"context"
	"net/http"
)

func contextWithUser(r *http.Request, id int64) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, id)
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}
