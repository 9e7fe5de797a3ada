package server

import "github.com/boxhub/boxhub/internal/authz"

// Route names used as authorization policy keys.
const (
	RouteListDatasets        = "GET /datasets"
	RouteGetDataset          = "GET /datasets/{id}"
	RouteCreateDataset       = "POST /datasets"
	RouteRemoveDataset       = "DELETE /datasets/{id}"
	RouteRemoveImage         = "DELETE /datasets/{id}/images"
	RouteUpdateBoundingBoxes = "PUT /datasets/{id}/images/{imageId}/boxes"
	RouteTrainModel          = "POST /datasets/{id}/models"
	RouteRemoveModel         = "DELETE /datasets/{id}/models/{name}"
)

// Policies returns the authorization policies of the dataset routes. Only
// the read routes are bypass-eligible.
func Policies() authz.Policies {
	return authz.Policies{
		RouteListDatasets:        {Bypass: true},
		RouteGetDataset:          {Bypass: true},
		RouteCreateDataset:       {},
		RouteRemoveDataset:       {},
		RouteRemoveImage:         {},
		RouteUpdateBoundingBoxes: {},
		RouteTrainModel:          {},
		RouteRemoveModel:         {},
	}
}
