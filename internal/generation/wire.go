package generation

// Wire shapes for the duplex channel and the chunked event stream.

// jobEnvelope is the job-creation message sent over the duplex channel.
type jobEnvelope struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Item      jobEnvelopeItem `json:"item"`
}

type jobEnvelopeItem struct {
	Type    string       `json:"type"`
	Content []jobContent `json:"content"`
}

type jobContent struct {
	RequestID  string        `json:"requestId"`
	Text       string        `json:"text"`
	Type       string        `json:"type"`
	Properties jobProperties `json:"properties"`
}

type jobProperties struct {
	SectionCount  int    `json:"section_count"`
	IsKidsMode    bool   `json:"is_kids_mode"`
	EnableNSFW    bool   `json:"enable_nsfw"`
	SkipUpsampler bool   `json:"skip_upsampler"`
	IsInitial     bool   `json:"is_initial"`
	AspectRatio   string `json:"aspect_ratio"`
}

// channelEvent is an inbound duplex-channel event: either an image unit or
// a protocol-level error.
type channelEvent struct {
	Type    string `json:"type"`
	Blob    string `json:"blob"`
	URL     string `json:"url"`
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// mediaPostRequest creates a media post ahead of a video job.
type mediaPostRequest struct {
	MediaType string `json:"mediaType"`
	Prompt    string `json:"prompt"`
}

type mediaPostResponse struct {
	Post struct {
		ID string `json:"id"`
	} `json:"post"`
}

// chatRequest is the chat-style request that references the media post and
// carries the video generation parameters.
type chatRequest struct {
	DeviceEnvInfo               deviceEnvInfo    `json:"deviceEnvInfo"`
	DisableMemory               bool             `json:"disableMemory"`
	DisableSearch               bool             `json:"disableSearch"`
	DisableSelfHarmShortCircuit bool             `json:"disableSelfHarmShortCircuit"`
	DisableTextFollowUps        bool             `json:"disableTextFollowUps"`
	EnableImageGeneration       bool             `json:"enableImageGeneration"`
	EnableImageStreaming        bool             `json:"enableImageStreaming"`
	EnableSideBySide            bool             `json:"enableSideBySide"`
	FileAttachments             []string         `json:"fileAttachments"`
	ForceConcise                bool             `json:"forceConcise"`
	ForceSideBySide             bool             `json:"forceSideBySide"`
	ImageAttachments            []string         `json:"imageAttachments"`
	ImageGenerationCount        int              `json:"imageGenerationCount"`
	IsAsyncChat                 bool             `json:"isAsyncChat"`
	IsReasoning                 bool             `json:"isReasoning"`
	Message                     string           `json:"message"`
	ModelMode                   *string          `json:"modelMode"`
	ModelName                   string           `json:"modelName"`
	ResponseMetadata            responseMetadata `json:"responseMetadata"`
	ReturnImageBytes            bool             `json:"returnImageBytes"`
	ReturnRawGrokInXaiRequest   bool             `json:"returnRawGrokInXaiRequest"`
	SendFinalMetadata           bool             `json:"sendFinalMetadata"`
	Temporary                   bool             `json:"temporary"`
	ToolOverrides               toolOverrides    `json:"toolOverrides"`
}

type deviceEnvInfo struct {
	DarkModeEnabled  bool `json:"darkModeEnabled"`
	DevicePixelRatio int  `json:"devicePixelRatio"`
	ScreenWidth      int  `json:"screenWidth"`
	ScreenHeight     int  `json:"screenHeight"`
	ViewportWidth    int  `json:"viewportWidth"`
	ViewportHeight   int  `json:"viewportHeight"`
}

type responseMetadata struct {
	RequestModelDetails struct {
		ModelID string `json:"modelId"`
	} `json:"requestModelDetails"`
	ModelConfigOverride struct {
		ModelMap struct {
			VideoGenModelConfig videoGenModelConfig `json:"videoGenModelConfig"`
		} `json:"modelMap"`
	} `json:"modelConfigOverride"`
}

type videoGenModelConfig struct {
	AspectRatio    string `json:"aspectRatio"`
	ParentPostID   string `json:"parentPostId"`
	ResolutionName string `json:"resolutionName"`
	VideoLength    int    `json:"videoLength"`
}

type toolOverrides struct {
	VideoGen bool `json:"videoGen"`
}

// chatStreamRecord is one JSON record of the chunked event stream. Only
// the nested video-progress object matters for completion.
type chatStreamRecord struct {
	Result struct {
		Response struct {
			Token                            string        `json:"token"`
			StreamingVideoGenerationResponse videoProgress `json:"streamingVideoGenerationResponse"`
		} `json:"response"`
	} `json:"result"`
}

// videoProgress carries float progress since the upstream emits both
// integer and fractional values for the same field.
type videoProgress struct {
	Progress          float64 `json:"progress"`
	VideoURL          string  `json:"videoUrl"`
	ThumbnailImageURL string  `json:"thumbnailImageUrl"`
}

type upscaleRequest struct {
	VideoID string `json:"videoId"`
}

type upscaleResponse struct {
	HDMediaURL string `json:"hdMediaUrl"`
}

type birthDateRequest struct {
	BirthDate string `json:"birthDate"`
}
