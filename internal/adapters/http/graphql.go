package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/usecases"
)

// buildSchema creates the read-only GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	pointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Point",
		Fields: graphql.Fields{
			"lat":       &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
			"lon":       &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
			"timestamp": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"alt":       &graphql.Field{Type: graphql.Float},
			"heading":   &graphql.Field{Type: graphql.Float},
			"speedKmh":  &graphql.Field{Type: graphql.Int},
		},
	})

	zoneType := graphql.NewObject(graphql.ObjectConfig{
		Name: "PrivacyZone",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"name":          &graphql.Field{Type: graphql.String},
			"lat":           &graphql.Field{Type: graphql.Float},
			"lon":           &graphql.Field{Type: graphql.Float},
			"radius_meters": &graphql.Field{Type: graphql.Float},
		},
	})

	routesetType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Routeset",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"name":       &graphql.Field{Type: graphql.String},
			"createdAt":  &graphql.Field{Type: graphql.String},
			"pointCount": &graphql.Field{Type: graphql.Int},
			"redacted":   &graphql.Field{Type: graphql.Boolean},
		},
	})

	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "MaterializerStats",
		Fields: graphql.Fields{
			"lastCompleted": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					st, _ := p.Source.(usecases.MaterializerStats)
					if st.LastCompleted.IsZero() {
						return nil, nil
					}
					return st.LastCompleted.UTC().Format(time.RFC3339), nil
				},
			},
			"builds":    &graphql.Field{Type: graphql.Int},
			"points":    &graphql.Field{Type: graphql.Int},
			"pending":   &graphql.Field{Type: graphql.Boolean},
			"lastError": &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"lastPoint": &graphql.Field{
				Type:        pointType,
				Description: "Most recent accepted point, null when the log is empty",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pt, err := deps.Points.Last(p.Context)
					if err != nil {
						return nil, nil
					}
					return pointFields(pt), nil
				},
			},
			"zones": &graphql.Field{
				Type:        graphql.NewList(zoneType),
				Description: "Current privacy zones",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Redactor.Zones(p.Context), nil
				},
			},
			"routesets": &graphql.Field{
				Type:        graphql.NewList(routesetType),
				Description: "Saved snapshots, oldest first",
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					list, err := deps.Routesets.List(p.Context)
					if err != nil {
						return nil, err
					}
					limit, _ := p.Args["limit"].(int)
					page, _ := paginate(list, 0, max(limit, 0))
					return page, nil
				},
			},
			"materializer": &graphql.Field{
				Type:        statsType,
				Description: "Public artifact rebuild state",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Materializer.Stats(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// pointFields flattens optional pointers so absent fields resolve to null.
func pointFields(p *domain.Point) map[string]interface{} {
	m := map[string]interface{}{
		"lat":       p.Lat,
		"lon":       p.Lon,
		"timestamp": p.Timestamp,
	}
	if p.Alt != nil {
		m["alt"] = *p.Alt
	}
	if p.Heading != nil {
		m["heading"] = *p.Heading
	}
	if p.SpeedKmh != nil {
		m["speedKmh"] = *p.SpeedKmh
	}
	return m
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil || req.Query == "" {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
