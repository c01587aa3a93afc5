package server

import (
	"net/http"

	"github.com/charmbracelet/log"
	gqlhandler "github.com/graphql-go/handler"

	"socwatch/internal/auth"
	gqlschema "socwatch/internal/graphql"
)

func newGraphQLHandler(store gqlschema.AlertReader, limits gqlschema.Limits) (http.Handler, error) {
	schema, err := gqlschema.NewSchema(store, limits)
	if err != nil {
		return nil, err
	}

	base := gqlhandler.New(&gqlhandler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: false,
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token := auth.ExtractBearerToken(r.Header.Get("Authorization")); token != "" {
			if claims, err := auth.ValidateJWT(token); err == nil {
				if role, _ := claims["role"].(string); role == operatorRole {
					if subject, err := claims.GetSubject(); err == nil && subject != "" {
						ctx = gqlschema.WithSubject(ctx, subject)
					}
				}
			} else {
				log.Debug("GraphQL token rejected", "error", err)
			}
		}

		base.ContextHandler(ctx, w, r)
	}), nil
}
