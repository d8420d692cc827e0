package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/hifi-resolver/pkg/classify"
	"github.com/hazyhaar/hifi-resolver/pkg/index"
	"github.com/hazyhaar/hifi-resolver/pkg/kit"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
	"github.com/hazyhaar/hifi-resolver/pkg/service"
	"github.com/hazyhaar/hifi-resolver/pkg/store"
)

// maxBatch bounds /v1/match/batch and the candidate limit.
const maxBatch = 100

// Shared request/response types used by both HTTP and MCP transports.

type normalizeReq struct {
	Text string `json:"text"`
}

type compareBrandsReq struct {
	A string `json:"a"`
	B string `json:"b"`
}

type matchReq struct {
	service.Listing
	// Classify runs the category classifier before matching.
	Classify bool `json:"classify,omitempty"`
}

type matchBatchReq struct {
	Listings []matchReq `json:"listings"`
}

type batchItem struct {
	*service.Resolution
	Error string `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

type classifyReq struct {
	service.Listing
	Explain bool `json:"explain,omitempty"`
}

type classifyResponse struct {
	*service.Classification
	Tiers []classify.Result `json:"tiers,omitempty"`
}

type candidatesReq struct {
	service.Listing
	Limit int `json:"limit,omitempty"`
}

type candidatesResponse struct {
	Candidates []match.Result `json:"candidates"`
}

type addEntryReq struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category"`
}

type addEntryResponse struct {
	index.Candidate
	Category string `json:"category"`
}

type reviewsReq struct {
	Limit int
}

type reviewsResponse struct {
	Reviews []store.Decision `json:"reviews"`
}

type resolveReviewReq struct {
	ID      string        `json:"-"`
	Outcome match.Outcome `json:"outcome"`
}

// endpoints holds the kit.Endpoints backed by one Service.
type endpoints struct {
	normalize     kit.Endpoint
	compareBrands kit.Endpoint
	match         kit.Endpoint
	matchBatch    kit.Endpoint
	classify      kit.Endpoint
	candidates    kit.Endpoint
	addEntry      kit.Endpoint
	stats         kit.Endpoint
	rules         kit.Endpoint
	reviews       kit.Endpoint
	resolveReview kit.Endpoint
}

func newEndpoints(svc *service.Service, logger *slog.Logger) *endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Named(name), kit.Logging(logger))(ep)
	}
	return &endpoints{
		normalize:     wrap("normalize", normalizeEndpoint(svc)),
		compareBrands: wrap("compare_brands", compareBrandsEndpoint(svc)),
		match:         wrap("match", matchEndpoint(svc)),
		matchBatch:    wrap("match_batch", matchBatchEndpoint(svc)),
		classify:      wrap("classify", classifyEndpoint(svc)),
		candidates:    wrap("candidates", candidatesEndpoint(svc)),
		addEntry:      wrap("add_entry", addEntryEndpoint(svc)),
		stats:         wrap("stats", statsEndpoint(svc)),
		rules:         wrap("rules", rulesEndpoint(svc)),
		reviews:       wrap("reviews", reviewsEndpoint(svc)),
		resolveReview: wrap("resolve_review", resolveReviewEndpoint(svc)),
	}
}

func normalizeEndpoint(svc *service.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*normalizeReq)
		return svc.Normalize(req.Text), nil
	}
}

func compareBrandsEndpoint(svc *service.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*compareBrandsReq)
		return svc.CompareBrands(req.A, req.B), nil
	}
}

func runMatch(ctx context.Context, svc *service.Service, req *matchReq) (*service.Resolution, error) {
	if req.Classify {
		return svc.Resolve(ctx, req.Listing)
	}
	return svc.Match(ctx, req.Listing)
}

func matchEndpoint(svc *service.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return runMatch(ctx, svc, request.(*matchReq))
	}
}

func matchBatchEndpoint(svc *service.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*matchBatchReq)
		if len(req.Listings) == 0 {
			return nil, fmt.Errorf("%w: listings array is empty", service.ErrInvalidListing)
		}
		if len(req.Listings) > maxBatch {
			return nil, fmt.Errorf("%w: too many listings (max %d, got %d)", service.ErrInvalidListing, maxBatch, len(req.Listings))
		}
		results := make([]batchItem, len(req.Listings))
		for i := range req.Listings {
			res, err := runMatch(ctx, svc, &req.Listings[i])
			if err != nil {
				if !isClientError(err) {
					return nil, err
				}
				results[i].Error = err.Error()
				continue
			}
			results[i].Resolution = res
		}
		return batchResponse{Results: results}, nil
	}
}

func classifyEndpoint(svc *service.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*classifyReq)
		c, err := svc.Classify(req.Listing)
		if err != nil {
			return nil, err
		}
		resp := classifyResponse{Classification: c}
		if req.Explain {
			if resp.Tiers, err = svc.Explain(req.Listing); err != nil {
				return nil, err
			}
		}
		return resp, nil
	}
}

func candidatesEndpoint(svc *service.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*candidatesReq)
		limit := req.Limit
		if limit <= 0 || limit > maxBatch {
			limit = 10
		}
		out, err := svc.Candidates(req.Listing, limit)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []match.Result{}
		}
		return candidatesResponse{Candidates: out}, nil
	}
}

func addEntryEndpoint(svc *service.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*addEntryReq)
		c, err := svc.AddEntry(ctx, req.Category, index.Candidate{ID: req.ID, Name: req.Name, Brand: req.Brand})
		if err != nil {
			return nil, err
		}
		cat, _ := classify.ParseCategory(req.Category)
		return addEntryResponse{Candidate: c, Category: string(cat)}, nil
	}
}

func statsEndpoint(svc *service.Service) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return svc.Stats(), nil
	}
}

func rulesEndpoint(svc *service.Service) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return svc.Rules(), nil
	}
}

func reviewsEndpoint(svc *service.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*reviewsReq)
		out, err := svc.PendingReviews(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []store.Decision{}
		}
		return reviewsResponse{Reviews: out}, nil
	}
}

func resolveReviewEndpoint(svc *service.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*resolveReviewReq)
		if req.Outcome != match.AutoMerge && req.Outcome != match.Reject {
			return nil, fmt.Errorf("%w: outcome must be %q or %q", errBadRequest, match.AutoMerge, match.Reject)
		}
		if err := svc.ResolveReview(ctx, req.ID, req.Outcome); err != nil {
			return nil, err
		}
		return map[string]string{"id": req.ID, "outcome": string(req.Outcome)}, nil
	}
}
