package protocol

const (
	ContentDisplayData   = "display_data"
	ContentExecuteResult = "execute_result"
	ContentStream        = "stream"
	ContentError         = "error"
	ContentClearOutput   = "clear_output"
)

// KernelContent is the payload of a KernelMessage. Concrete types:
// DisplayData, ExecuteResult, Stream, Error, ClearOutput.
type KernelContent interface {
	ContentType() string
	kernelContent()
}

type DisplayData struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

func (DisplayData) ContentType() string { return ContentDisplayData }
func (DisplayData) kernelContent()      {}

type ExecuteResult struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

func (ExecuteResult) ContentType() string { return ContentExecuteResult }
func (ExecuteResult) kernelContent()      {}

type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (Stream) ContentType() string { return ContentStream }
func (Stream) kernelContent()      {}

type Error struct {
	Name      string   `json:"name"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback"`
}

func (Error) ContentType() string { return ContentError }
func (Error) kernelContent()      {}

type ClearOutput struct {
	Wait bool `json:"wait"`
}

func (ClearOutput) ContentType() string { return ContentClearOutput }
func (ClearOutput) kernelContent()      {}
