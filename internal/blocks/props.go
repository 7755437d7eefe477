package blocks

// Props is the variant-specific payload of a Block. The set of implementations
// is closed: only the structs in this file satisfy it.
type Props interface {
	// Type reports the block variant the props belong to.
	Type() Type
	// check runs constraints that struct tags cannot express.
	check() ValidationErrors
}

// TextRichProps holds a rich-text document tree.
type TextRichProps struct {
	Doc RichNode `json:"doc"`
}

type QuoteProps struct {
	Text        string `json:"text" validate:"notblank"`
	Attribution string `json:"attribution,omitempty"`
	CiteURL     string `json:"citeUrl,omitempty" validate:"omitempty,httpurl"`
}

type ImageProps struct {
	Src     string `json:"src" validate:"httpurl"`
	Alt     string `json:"alt" validate:"notblank"`
	Caption string `json:"caption,omitempty"`
	Width   *int   `json:"width,omitempty"`
	Height  *int   `json:"height,omitempty"`
}

type VideoProps struct {
	URL             string `json:"url" validate:"httpurl"`
	Provider        string `json:"provider" validate:"oneof=youtube vimeo file"`
	Caption         string `json:"caption,omitempty"`
	DurationSeconds *int   `json:"durationSeconds,omitempty" validate:"omitempty,gte=0"`
	Autoplay        bool   `json:"autoplay"`
}

type CalloutProps struct {
	Variant string `json:"variant" validate:"oneof=info warning success danger"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body" validate:"notblank"`
}

type DownloadProps struct {
	Href      string `json:"href" validate:"httpurl"`
	Label     string `json:"label" validate:"notblank"`
	FileName  string `json:"fileName,omitempty"`
	SizeBytes *int64 `json:"sizeBytes,omitempty" validate:"omitempty,gte=0"`
	MimeType  string `json:"mimeType,omitempty"`
}

// QuizOption is one answer of a multiple-choice question. Text may be blank
// while the question is being authored.
type QuizOption struct {
	ID   string `json:"id" validate:"notblank"`
	Text string `json:"text"`
}

type QuizMCQProps struct {
	Stem       string       `json:"stem" validate:"notblank"`
	Options    []QuizOption `json:"options" validate:"min=2,unique=ID,dive"`
	CorrectIDs []string     `json:"correctIds" validate:"min=1,unique"`
	Shuffle    bool         `json:"shuffle"`
	Feedback   string       `json:"feedback,omitempty"`
	Points     int          `json:"points" validate:"gte=0"`
}

type QuizTFProps struct {
	Statement string `json:"statement" validate:"notblank"`
	Answer    bool   `json:"answer"`
	Feedback  string `json:"feedback,omitempty"`
	Points    int    `json:"points" validate:"gte=0"`
}

type CTAButton struct {
	Label string `json:"label" validate:"notblank"`
	Href  string `json:"href" validate:"httpurl"`
}

type CTAProps struct {
	Headline string    `json:"headline" validate:"notblank"`
	Body     string    `json:"body,omitempty"`
	Button   CTAButton `json:"button"`
}

// ROIInput is a user-adjustable number in an ROI calculator.
type ROIInput struct {
	ID           string   `json:"id" validate:"notblank"`
	Label        string   `json:"label" validate:"notblank"`
	DefaultValue float64  `json:"defaultValue"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
}

type ROICalculatorProps struct {
	Title    string     `json:"title" validate:"notblank"`
	Currency string     `json:"currency" validate:"iso4217"`
	Inputs   []ROIInput `json:"inputs" validate:"min=1,unique=ID,dive"`
	Formula  string     `json:"formula" validate:"notblank"`
}

func (TextRichProps) Type() Type      { return TypeTextRich }
func (QuoteProps) Type() Type         { return TypeQuote }
func (ImageProps) Type() Type         { return TypeImage }
func (VideoProps) Type() Type         { return TypeVideo }
func (CalloutProps) Type() Type       { return TypeCallout }
func (DownloadProps) Type() Type      { return TypeDownload }
func (QuizMCQProps) Type() Type       { return TypeQuizMCQ }
func (QuizTFProps) Type() Type        { return TypeQuizTF }
func (CTAProps) Type() Type           { return TypeCTA }
func (ROICalculatorProps) Type() Type { return TypeROICalculator }

func (p TextRichProps) check() ValidationErrors { return p.Doc.checkRoot() }
func (QuoteProps) check() ValidationErrors      { return nil }
func (ImageProps) check() ValidationErrors      { return nil }
func (VideoProps) check() ValidationErrors      { return nil }
func (CalloutProps) check() ValidationErrors    { return nil }
func (DownloadProps) check() ValidationErrors   { return nil }
func (QuizTFProps) check() ValidationErrors     { return nil }
func (CTAProps) check() ValidationErrors        { return nil }

func (p QuizMCQProps) check() ValidationErrors {
	ids := make(map[string]struct{}, len(p.Options))
	for _, opt := range p.Options {
		ids[opt.ID] = struct{}{}
	}
	var errs ValidationErrors
	for i, id := range p.CorrectIDs {
		if _, ok := ids[id]; !ok {
			errs = append(errs, ValidationError{
				Field:  fieldIndex("correctIds", i),
				Reason: "correctIds must reference an existing option id",
			})
		}
	}
	return errs
}

func (p ROICalculatorProps) check() ValidationErrors {
	var errs ValidationErrors
	for i, in := range p.Inputs {
		if in.Min != nil && in.Max != nil && *in.Max < *in.Min {
			errs = append(errs, ValidationError{
				Field:  fieldIndex("inputs", i) + ".max",
				Reason: "max must be greater than or equal to min",
			})
		}
	}
	return errs
}
