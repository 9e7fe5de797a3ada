package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
)

const (
	// DatasetAccessServiceName is the fully-qualified name of the dataset access service.
	DatasetAccessServiceName = "boxhub.datasets.v1.DatasetAccessService"

	DatasetAccessServiceUserHasReadAccessProcedure  = "/" + DatasetAccessServiceName + "/UserHasReadAccess"
	DatasetAccessServiceUserHasWriteAccessProcedure = "/" + DatasetAccessServiceName + "/UserHasWriteAccess"
	DatasetAccessServiceDatasetExistsProcedure      = "/" + DatasetAccessServiceName + "/DatasetExists"
)

// AccessService decides dataset access. Implemented by *registry.Service.
type AccessService interface {
	ReadAccess(ctx context.Context, datasetID string, identity auth.Identity) (bool, error)
	WriteAccess(datasetID string, identity auth.Identity) bool
	DatasetExists(ctx context.Context, datasetID string) (bool, error)
}

// DatasetAccessHandler serves access checks to file storage. The caller's
// identity is resolved by the authorization interceptor before the handler runs.
type DatasetAccessHandler struct {
	service AccessService
}

// NewDatasetAccessHandler returns the mount path and handler for the dataset access RPC.
func NewDatasetAccessHandler(service AccessService, authorize connect.Interceptor, opts ...connect.HandlerOption) (string, http.Handler) {
	h := &DatasetAccessHandler{service: service}
	if authorize != nil {
		opts = append(opts, connect.WithInterceptors(authorize))
	}
	options := HandlerOptions(opts...)

	mux := http.NewServeMux()
	mux.Handle(DatasetAccessServiceUserHasReadAccessProcedure, connect.NewUnaryHandler(
		DatasetAccessServiceUserHasReadAccessProcedure, h.UserHasReadAccess, options...))
	mux.Handle(DatasetAccessServiceUserHasWriteAccessProcedure, connect.NewUnaryHandler(
		DatasetAccessServiceUserHasWriteAccessProcedure, h.UserHasWriteAccess, options...))

	return "/" + DatasetAccessServiceName + "/", mux
}

// UserHasReadAccess reports whether the caller may read the dataset.
func (h *DatasetAccessHandler) UserHasReadAccess(
	ctx context.Context,
	req *connect.Request[AccessRequest],
) (*connect.Response[AccessResponse], error) {
	if req.Msg.DatasetID == "" {
		return nil, toConnectError(apperr.BadRequestf("datasetId is required"))
	}
	allowed, err := h.service.ReadAccess(ctx, req.Msg.DatasetID, auth.IdentityFromContext(ctx))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AccessResponse{Allowed: allowed}), nil
}

// UserHasWriteAccess reports whether the caller may modify the dataset.
func (h *DatasetAccessHandler) UserHasWriteAccess(
	ctx context.Context,
	req *connect.Request[AccessRequest],
) (*connect.Response[AccessResponse], error) {
	if req.Msg.DatasetID == "" {
		return nil, toConnectError(apperr.BadRequestf("datasetId is required"))
	}
	allowed := h.service.WriteAccess(req.Msg.DatasetID, auth.IdentityFromContext(ctx))
	return connect.NewResponse(&AccessResponse{Allowed: allowed}), nil
}

// DatasetExists reports whether the dataset row exists. The identity service
// calls it before binding a newly created dataset to its creator.
func (h *DatasetAccessHandler) DatasetExists(
	ctx context.Context,
	req *connect.Request[AccessRequest],
) (*connect.Response[ExistsResponse], error) {
	if req.Msg.DatasetID == "" {
		return nil, toConnectError(apperr.BadRequestf("datasetId is required"))
	}
	exists, err := h.service.DatasetExists(ctx, req.Msg.DatasetID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ExistsResponse{Exists: exists}), nil
}

// DatasetAccessClient calls the dataset access RPC.
type DatasetAccessClient struct {
	read   *connect.Client[AccessRequest, AccessResponse]
	write  *connect.Client[AccessRequest, AccessResponse]
	exists *connect.Client[AccessRequest, ExistsResponse]
}

// NewDatasetAccessClient creates a client for the datasets service at baseURL.
func NewDatasetAccessClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *DatasetAccessClient {
	baseURL = strings.TrimRight(baseURL, "/")
	options := ClientOptions(opts...)
	return &DatasetAccessClient{
		read: connect.NewClient[AccessRequest, AccessResponse](
			httpClient, baseURL+DatasetAccessServiceUserHasReadAccessProcedure, options...),
		write: connect.NewClient[AccessRequest, AccessResponse](
			httpClient, baseURL+DatasetAccessServiceUserHasWriteAccessProcedure, options...),
		exists: connect.NewClient[AccessRequest, ExistsResponse](
			httpClient, baseURL+DatasetAccessServiceDatasetExistsProcedure, options...),
	}
}

// UserHasReadAccess asks whether the holder of token may read the dataset.
// token may be empty for anonymous callers.
func (c *DatasetAccessClient) UserHasReadAccess(ctx context.Context, token, datasetID string) (bool, error) {
	resp, err := c.read.CallUnary(ctx, connect.NewRequest(&AccessRequest{Authentication: token, DatasetID: datasetID}))
	if err != nil {
		return false, fromConnectError(DatasetAccessServiceUserHasReadAccessProcedure, err)
	}
	return resp.Msg.Allowed, nil
}

// UserHasWriteAccess asks whether the holder of token may modify the dataset.
func (c *DatasetAccessClient) UserHasWriteAccess(ctx context.Context, token, datasetID string) (bool, error) {
	resp, err := c.write.CallUnary(ctx, connect.NewRequest(&AccessRequest{Authentication: token, DatasetID: datasetID}))
	if err != nil {
		return false, fromConnectError(DatasetAccessServiceUserHasWriteAccessProcedure, err)
	}
	return resp.Msg.Allowed, nil
}

// DatasetExists asks whether the dataset exists, authenticating with the token
// carried by ctx.
func (c *DatasetAccessClient) DatasetExists(ctx context.Context, datasetID string) (bool, error) {
	req := &AccessRequest{Authentication: auth.TokenFromContext(ctx), DatasetID: datasetID}
	resp, err := c.exists.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return false, fromConnectError(DatasetAccessServiceDatasetExistsProcedure, err)
	}
	return resp.Msg.Exists, nil
}
