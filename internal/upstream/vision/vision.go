// Package vision runs label, object and safe-search annotation on an image
// URL and reshapes the answer for the mobile client.
package vision

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	vapi "google.golang.org/api/vision/v1"
)

const maxResults = 10

var features = []string{"LABEL_DETECTION", "OBJECT_LOCALIZATION", "SAFE_SEARCH_DETECTION"}

type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type Object struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type Analysis struct {
	Labels     []Label           `json:"labels"`
	Objects    []Object          `json:"objects"`
	SafeSearch map[string]string `json:"safeSearch"`
}

type Annotator struct {
	svc *vapi.Service
}

func New(ctx context.Context, apiKey string, extra ...option.ClientOption) (*Annotator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for vision")
	}
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, extra...)
	svc, err := vapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &Annotator{svc: svc}, nil
}

func (a *Annotator) Analyze(ctx context.Context, imageURL string) (Analysis, error) {
	req := &vapi.AnnotateImageRequest{
		Image: &vapi.Image{Source: &vapi.ImageSource{ImageUri: imageURL}},
	}
	for _, f := range features {
		req.Features = append(req.Features, &vapi.Feature{Type: f, MaxResults: maxResults})
	}

	resp, err := a.svc.Images.Annotate(&vapi.BatchAnnotateImagesRequest{
		Requests: []*vapi.AnnotateImageRequest{req},
	}).Context(ctx).Do()
	if err != nil {
		return Analysis{}, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.Responses) > 0 && resp.Responses[0] != nil && resp.Responses[0].Error != nil {
		return Analysis{}, fmt.Errorf("vision annotate: %s", resp.Responses[0].Error.Message)
	}
	return reshape(resp), nil
}

func reshape(resp *vapi.BatchAnnotateImagesResponse) Analysis {
	out := Analysis{Labels: []Label{}, Objects: []Object{}, SafeSearch: map[string]string{}}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return out
	}
	r := resp.Responses[0]
	for _, l := range r.LabelAnnotations {
		out.Labels = append(out.Labels, Label{Description: l.Description, Score: l.Score})
	}
	for _, o := range r.LocalizedObjectAnnotations {
		out.Objects = append(out.Objects, Object{Name: o.Name, Score: o.Score})
	}
	if ss := r.SafeSearchAnnotation; ss != nil {
		set := func(k, v string) {
			if v != "" {
				out.SafeSearch[k] = v
			}
		}
		set("adult", ss.Adult)
		set("spoof", ss.Spoof)
		set("medical", ss.Medical)
		set("violence", ss.Violence)
		set("racy", ss.Racy)
	}
	return out
}
