package widgets

import (
	"errors"
	"time"
)

// ErrUnknownClient is returned for operations on a comm id the instance does
// not track.
var ErrUnknownClient = errors.New("unknown comm client")

// PlotMetadata describes the console output a plot instance was created for.
type PlotMetadata struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Created   int64  `json:"created"`
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

// CreatedAt converts the millisecond creation stamp back to a time.
func (m PlotMetadata) CreatedAt() time.Time {
	return time.UnixMilli(m.Created)
}

// PlotClient is surfaced to plot consumers for every console-mode widget
// output. Its id is the originating output message id, which is also the id
// of the backing Instance.
type PlotClient struct {
	metadata PlotMetadata
	instance *Instance
}

func newPlotClient(md PlotMetadata, instance *Instance) *PlotClient {
	return &PlotClient{metadata: md, instance: instance}
}

func (p *PlotClient) ID() string             { return p.metadata.ID }
func (p *PlotClient) Metadata() PlotMetadata { return p.metadata }

// Instance returns the widget instance backing the plot.
func (p *PlotClient) Instance() *Instance { return p.instance }
