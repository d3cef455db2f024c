package jembatan_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/ambiyansyah-risyal/jembatan"
)

func Example() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/1" {
			w.Header().Set("ETag", `"u1"`)
			_, _ = w.Write([]byte(`{"id":1,"name":"Ada"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"user not found","code":"NO_USER"}`))
	}))
	defer server.Close()

	cfg := jembatan.DefaultConfig(server.URL)
	cfg.EnableCaching = true
	client, err := jembatan.New(cfg, jembatan.WithLogger(jembatan.NopLogger{}))
	if err != nil {
		panic(err)
	}

	type user struct {
		Name string `json:"name"`
	}
	ctx := context.Background()

	first, _ := jembatan.GetJSON[user](ctx, client, "/users/1")
	second, _ := jembatan.GetJSON[user](ctx, client, "/users/1")
	fmt.Println(first.Data.Name, first.Cached, second.StatusText)

	_, err = client.Get(ctx, "/users/2")
	var cerr *jembatan.ClassifiedError
	if errors.As(err, &cerr) {
		fmt.Println(cerr.Status, cerr.Code, errors.Is(err, jembatan.ErrNotFound))
	}

	// Output:
	// Ada false OK (cached)
	// 404 NO_USER true
}
