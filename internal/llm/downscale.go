package llm

import (
	"bytes"

	"github.com/disintegration/imaging"
)

// downscale bounds the longer edge of an image before it is base64-encoded
// into the request body. The second return reports whether the bytes were
// re-encoded (always PNG when they were). Undecodable input is passed through
// untouched and left for the model endpoint to reject.
func (c *Client) downscale(data []byte) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, false
	}

	bounds := img.Bounds()
	edge := c.cfg.MaxImageEdge
	if bounds.Dx() <= edge && bounds.Dy() <= edge {
		return data, false
	}

	resized := imaging.Fit(img, edge, edge, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, resized, imaging.PNG); err != nil {
		return data, false
	}
	c.log.Debug("llm.image.downscaled",
		"from_w", bounds.Dx(), "from_h", bounds.Dy(),
		"max_edge", edge,
	)
	return buf.Bytes(), true
}
