package showapi

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"ticket_grabber/internal/model"
)

func (c *Client) Project(ctx context.Context, projectID string) (model.Project, error) {
	resp, err := c.session.Get(ctx, c.show+"/api/ticket/project/getV2?id="+url.QueryEscape(projectID))
	if err != nil {
		return model.Project{}, errors.Wrap(err, "get project")
	}
	if !resp.OK() {
		return model.Project{}, errors.Errorf("get project: http status %d", resp.StatusCode)
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return model.Project{}, errors.Wrap(err, "get project")
	}
	if code := env.ResultCode(); code != 0 {
		return model.Project{}, &RemoteError{Code: code, Message: env.Text()}
	}
	var p model.Project
	if err := decodeData(env, &p); err != nil {
		return model.Project{}, errors.Wrap(err, "get project")
	}
	return p, nil
}

func (c *Client) Buyers(ctx context.Context) ([]model.Buyer, error) {
	resp, err := c.session.Get(ctx, c.show+"/api/ticket/buyer/list")
	if err != nil {
		return nil, errors.Wrap(err, "get buyers")
	}
	if !resp.OK() {
		return nil, errors.Errorf("get buyers: http status %d", resp.StatusCode)
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "get buyers")
	}
	if code := env.ResultCode(); code != 0 {
		return nil, &RemoteError{Code: code, Message: env.Text()}
	}
	var data struct {
		List []model.Buyer `json:"list"`
	}
	if err := decodeData(env, &data); err != nil {
		return nil, errors.Wrap(err, "get buyers")
	}
	return data.List, nil
}
