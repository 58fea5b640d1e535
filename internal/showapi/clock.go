package showapi

import (
	"context"

	"github.com/pkg/errors"
)

// ServerNow 返回平台时钟（秒）。
func (c *Client) ServerNow(ctx context.Context) (float64, error) {
	resp, err := c.session.Get(ctx, c.api+"/x/click-interface/click/now")
	if err != nil {
		return 0, errors.Wrap(err, "server clock")
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, "server clock")
	}
	var data struct {
		Now lenientInt `json:"now"`
	}
	if err := decodeData(env, &data); err != nil {
		return 0, errors.Wrap(err, "server clock")
	}
	now := data.Now.Or(0)
	if now <= 0 {
		return 0, errors.New("server clock returned zero")
	}
	return float64(now), nil
}
