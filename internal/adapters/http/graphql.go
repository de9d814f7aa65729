package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// buildSchema creates the read-only GraphQL schema over the overlay layers.
// Fields resolve through the json tags of the REST views.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lat": &graphql.Field{Type: graphql.Float},
			"min_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
		},
	})

	layerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Layer",
		Fields: graphql.Fields{
			"name":   &graphql.Field{Type: graphql.String},
			"count":  &graphql.Field{Type: graphql.Int},
			"height": &graphql.Field{Type: graphql.Int},
			"dirty":  &graphql.Field{Type: graphql.Boolean},
			"extent": &graphql.Field{Type: boundsType},
		},
	})

	objectType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Object",
		Fields: graphql.Fields{
			"kind":      &graphql.Field{Type: graphql.String},
			"key":       &graphql.Field{Type: graphql.String},
			"bounds":    &graphql.Field{Type: boundsType},
			"lat":       &graphql.Field{Type: graphql.Float},
			"lon":       &graphql.Field{Type: graphql.Float},
			"direction": &graphql.Field{Type: graphql.Int},
			"dir":       &graphql.Field{Type: graphql.String},
			"name":      &graphql.Field{Type: graphql.String},
			"category":  &graphql.Field{Type: graphql.String},
			"title":     &graphql.Field{Type: graphql.String},
			"closed":    &graphql.Field{Type: graphql.Boolean},
		},
	})

	hitType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Hit",
		Fields: graphql.Fields{
			"object":     &graphql.Field{Type: objectType},
			"distance_m": &graphql.Field{Type: graphql.Float},
			"image_keys": &graphql.Field{Type: graphql.NewList(graphql.String)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"layers": &graphql.Field{
				Type:        graphql.NewList(layerType),
				Description: "Summaries of all layers",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var out []domain.LayerInfo
					for _, l := range deps.Overlay.Layers() {
						out = append(out, l.Info())
					}
					return out, nil
				},
			},
			"layer": &graphql.Field{
				Type:        layerType,
				Description: "One layer summary",
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					l, err := deps.Overlay.Layer(p.Args["name"].(string))
					if err != nil {
						return nil, err
					}
					return l.Info(), nil
				},
			},
			"objects": &graphql.Field{
				Type:        graphql.NewList(objectType),
				Description: "Objects of a layer intersecting a box given as minLon,minLat,maxLon,maxLat",
				Args: graphql.FieldConfigArgument{
					"layer": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"bbox":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: defaultObjectLimit},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					l, err := deps.Overlay.Layer(p.Args["layer"].(string))
					if err != nil {
						return nil, err
					}
					box, err := domain.ParseBBox(p.Args["bbox"].(string))
					if err != nil {
						return nil, err
					}
					limit := p.Args["limit"].(int)
					if limit <= 0 || limit > maxObjectLimit {
						limit = defaultObjectLimit
					}
					return toViews(l.Query(box, limit))
				},
			},
			"hitTest": &graphql.Field{
				Type:        graphql.NewList(hitType),
				Description: "Objects of a layer near a point, nearest first",
				Args: graphql.FieldConfigArgument{
					"layer":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 25.0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					l, err := deps.Overlay.Layer(p.Args["layer"].(string))
					if err != nil {
						return nil, err
					}
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					radius := min(p.Args["radius"].(float64), maxHitRadius)
					limit := p.Args["limit"].(int)
					return toHitViews(l.HitTest(domain.ToE7(lon), domain.ToE7(lat), radius, limit))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

type gqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		panic("graphql schema build: " + err.Error())
	}

	return func(c *fiber.Ctx) error {
		if deps.Overlay == nil {
			return errUnavailable(c, "overlay not available")
		}
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
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
