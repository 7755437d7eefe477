package blocks

import (
	"fmt"
	"reflect"
)

// defaultBuilders returns fresh defaults on every call so merged overrides
// never alias slices or maps of another block.
var defaultBuilders = map[Type]func() Props{
	TypeTextRich: func() Props {
		return TextRichProps{Doc: EmptyDoc()}
	},
	TypeQuote: func() Props {
		return QuoteProps{Text: "Quote text"}
	},
	TypeImage: func() Props {
		return ImageProps{Src: "https://placehold.co/800x450", Alt: "Image description"}
	},
	TypeVideo: func() Props {
		return VideoProps{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Provider: "youtube"}
	},
	TypeCallout: func() Props {
		return CalloutProps{Variant: "info", Body: "Callout text"}
	},
	TypeDownload: func() Props {
		return DownloadProps{Href: "https://example.com/file.pdf", Label: "Download"}
	},
	TypeQuizMCQ: func() Props {
		return QuizMCQProps{
			Stem: "Question",
			Options: []QuizOption{
				{ID: "opt_1", Text: ""},
				{ID: "opt_2", Text: ""},
			},
			CorrectIDs: []string{"opt_1"},
			Points:     1,
		}
	},
	TypeQuizTF: func() Props {
		return QuizTFProps{Statement: "Statement", Answer: true, Points: 1}
	},
	TypeCTA: func() Props {
		return CTAProps{
			Headline: "Headline",
			Button:   CTAButton{Label: "Learn more", Href: "https://example.com"},
		}
	},
	TypeROICalculator: func() Props {
		return ROICalculatorProps{
			Title:    "ROI calculator",
			Currency: "USD",
			Inputs: []ROIInput{
				{ID: "investment", Label: "Investment", DefaultValue: 1000},
			},
			Formula: "investment * 1.1",
		}
	},
}

// Defaults returns the default props of t.
func Defaults(t Type) (Props, error) {
	props, ok := defaultProps(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return props, nil
}

func defaultProps(t Type) (Props, bool) {
	build, ok := defaultBuilders[t]
	if !ok {
		return nil, false
	}
	return build(), true
}

// newProps returns a pointer to the zero props struct of t.
func newProps(t Type) (any, bool) {
	props, ok := defaultProps(t)
	if !ok {
		return nil, false
	}
	return reflect.New(reflect.TypeOf(props)).Interface(), true
}

func deref(ptr any) Props {
	return reflect.ValueOf(ptr).Elem().Interface().(Props)
}
