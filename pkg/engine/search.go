package engine

import "context"

// Search runs a search against a collection.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.post(ctx, "/api/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare synthesizes the distinct approaches a collection takes on a query.
// Servers with synthesis disabled respond with a plain 404.
func (c *Client) Compare(ctx context.Context, req CompareRequest) (*Comparison, error) {
	var out Comparison
	if err := c.post(ctx, "/api/synthesis/compare", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
