package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const getRatingMethod = "/rating.v1.RatingService/GetRating"

type cleanupFunc func()

// RatingClient asks the rating service for a user's rating in one distance
// bucket. Requests are plain structpb messages so no generated stubs are needed.
type RatingClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewRatingClient(addr string, timeout time.Duration) (*RatingClient, cleanupFunc, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rating client: %w", err)
	}

	return NewRatingClientFromConn(conn, timeout), func() { _ = conn.Close() }, nil
}

func NewRatingClientFromConn(conn grpc.ClientConnInterface, timeout time.Duration) *RatingClient {
	return &RatingClient{conn: conn, timeout: timeout}
}

// RatingFor returns 0 without error when the service has no rating for the user.
func (c *RatingClient) RatingFor(ctx context.Context, uID string, distanceBucket int) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{
		"user_id":         uID,
		"distance_bucket": distanceBucket,
	})
	if err != nil {
		return 0, err
	}

	resp := &wrapperspb.Int32Value{}
	if err := c.conn.Invoke(ctx, getRatingMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("rating lookup failed: %w", err)
	}

	return int(resp.GetValue()), nil
}
