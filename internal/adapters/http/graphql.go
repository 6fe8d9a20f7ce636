package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/geoaugment/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to the engine.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	vec3Type := graphql.NewObject(graphql.ObjectConfig{
		Name: "Vec3",
		Fields: graphql.Fields{
			"x": &graphql.Field{Type: graphql.Float},
			"y": &graphql.Field{Type: graphql.Float},
			"z": &graphql.Field{Type: graphql.Float},
		},
	})

	targetType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Target",
		Fields: graphql.Fields{
			"url":   &graphql.Field{Type: graphql.String},
			"layer": &graphql.Field{Type: graphql.String},
		},
	})

	statusType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Status",
		Fields: graphql.Fields{
			"state":            &graphql.Field{Type: graphql.String},
			"error":            &graphql.Field{Type: graphql.String},
			"error_kind":       &graphql.Field{Type: graphql.String},
			"target":           &graphql.Field{Type: targetType},
			"layer_title":      &graphql.Field{Type: graphql.String},
			"generation":       &graphql.Field{Type: graphql.Int},
			"objects":          &graphql.Field{Type: graphql.Int},
			"fps":              &graphql.Field{Type: graphql.Int},
			"position":         &graphql.Field{Type: geoPointType},
			"fixed":            &graphql.Field{Type: graphql.Boolean},
			"kalman_enabled":   &graphql.Field{Type: graphql.Boolean},
			"refresh_interval": &graphql.Field{Type: graphql.Float},
		},
	})

	objectType := graphql.NewObject(graphql.ObjectConfig{
		Name: "AugmentObject",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.ID},
			"parent_id":    &graphql.Field{Type: graphql.ID},
			"title":        &graphql.Field{Type: graphql.String},
			"object_ref":   &graphql.Field{Type: graphql.String},
			"base_url":     &graphql.Field{Type: graphql.String},
			"geo":          &graphql.Field{Type: geoPointType},
			"relative_alt": &graphql.Field{Type: graphql.Float},
			"is_relative":  &graphql.Field{Type: graphql.Boolean},
			"position":     &graphql.Field{Type: vec3Type},
			"target":       &graphql.Field{Type: vec3Type},
			"scale":        &graphql.Field{Type: graphql.Float},
			"angle":        &graphql.Field{Type: graphql.Float},
			"billboard":    &graphql.Field{Type: graphql.Boolean},
			"bleaching":    &graphql.Field{Type: graphql.Int},
			"generation":   &graphql.Field{Type: graphql.Int},
		},
	})

	layerItemType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LayerItem",
		Fields: graphql.Fields{
			"layer_name": &graphql.Field{Type: graphql.String},
			"item_name":  &graphql.Field{Type: graphql.String},
			"line2":      &graphql.Field{Type: graphql.String},
			"line3":      &graphql.Field{Type: graphql.String},
			"url":        &graphql.Field{Type: graphql.String},
			"distance":   &graphql.Field{Type: graphql.Float},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"status": &graphql.Field{
				Type:        statusType,
				Description: "Current engine state",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					st := deps.Engine.Status()
					return map[string]interface{}{
						"state":            string(st.State),
						"error":            st.Error,
						"error_kind":       st.ErrorKind,
						"target":           map[string]interface{}{"url": st.Target.URL, "layer": st.Target.Layer},
						"layer_title":      st.LayerTitle,
						"generation":       int(st.Generation),
						"objects":          st.Objects,
						"fps":              st.FPS,
						"position":         st.Position,
						"fixed":            st.Fixed,
						"kalman_enabled":   st.KalmanEnabled,
						"refresh_interval": st.RefreshInterval,
					}, nil
				},
			},
			"objects": &graphql.Field{
				Type:        graphql.NewList(objectType),
				Description: "Live augment objects, parents before children",
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					limit := p.Args["limit"].(int)
					objects := deps.Engine.Objects()
					if limit > 0 && len(objects) > limit {
						objects = objects[:limit]
					}
					result := make([]map[string]interface{}, 0, len(objects))
					for _, o := range objects {
						result = append(result, objectFields(o))
					}
					return result, nil
				},
			},
			"object": &graphql.Field{
				Type:        objectType,
				Description: "Get a live object by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, err := strconv.ParseInt(p.Args["id"].(string), 10, 64)
					if err != nil {
						return nil, errors.New("id must be an integer")
					}
					o, ok := deps.Engine.Object(id)
					if !ok {
						return nil, nil
					}
					return objectFields(o), nil
				},
			},
			"layers": &graphql.Field{
				Type:        graphql.NewList(layerItemType),
				Description: "Directory entries offered for selection",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Engine.LayerItems(), nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"refresh": &graphql.Field{
				Type:        targetType,
				Description: "Restart the fetch cycle, optionally on another layer or position",
				Args: graphql.FieldConfigArgument{
					"url":   &graphql.ArgumentConfig{Type: graphql.String},
					"layer": &graphql.ArgumentConfig{Type: graphql.String},
					"lat":   &graphql.ArgumentConfig{Type: graphql.Float},
					"lon":   &graphql.ArgumentConfig{Type: graphql.Float},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var req domain.RefreshRequest
					req.URL, _ = p.Args["url"].(string)
					req.LayerName, _ = p.Args["layer"].(string)
					if lat, ok := p.Args["lat"].(float64); ok {
						req.Lat = &lat
					}
					if lon, ok := p.Args["lon"].(float64); ok {
						req.Lon = &lon
					}
					if (req.Lat == nil) != (req.Lon == nil) {
						return nil, errors.New("lat and lon must be given together")
					}
					if err := deps.Engine.RequestRefresh(req); err != nil {
						return nil, err
					}
					t := deps.Engine.Target()
					return map[string]interface{}{"url": t.URL, "layer": t.Layer}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

func objectFields(o domain.AugmentObject) map[string]interface{} {
	m := map[string]interface{}{
		"id":           strconv.FormatInt(o.ID, 10),
		"title":        o.Title,
		"object_ref":   o.ObjectRef,
		"base_url":     o.BaseURL,
		"geo":          o.Geo,
		"relative_alt": o.RelativeAlt,
		"is_relative":  o.IsRelative,
		"position":     o.Position,
		"target":       o.Target,
		"scale":        o.Scale,
		"angle":        o.Angle,
		"billboard":    o.Billboard,
		"bleaching":    o.Bleaching,
		"generation":   int(o.Generation),
	}
	if o.ParentID != nil {
		m["parent_id"] = strconv.FormatInt(*o.ParentID, 10)
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
