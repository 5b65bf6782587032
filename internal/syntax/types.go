package syntax

// AnalysisRequest is the body of documents:analyzeSyntax. Only
// document.language and document.content are used.
type AnalysisRequest struct {
	Document     *Document `json:"document"`
	EncodingType string    `json:"encodingType,omitempty"`
}

type Document struct {
	Type     string  `json:"type,omitempty"`
	Language string  `json:"language"`
	Content  *string `json:"content"`
}

type AnalysisResponse struct {
	Sentences []Sentence      `json:"sentences"`
	Tokens    []ResponseToken `json:"tokens"`
	Language  string          `json:"language"`
}

type Sentence struct {
	Text      TextSpan  `json:"text"`
	Sentiment Sentiment `json:"sentiment"`
}

type TextSpan struct {
	Content     string `json:"content"`
	BeginOffset int    `json:"beginOffset"`
}

// Sentiment is always zero; sentiment analysis is not performed.
type Sentiment struct {
	Magnitude float64 `json:"magnitude"`
	Score     float64 `json:"score"`
}

type ResponseToken struct {
	Text           TextSpan       `json:"text"`
	PartOfSpeech   AttributeMap   `json:"partOfSpeech"`
	DependencyEdge DependencyEdge `json:"dependencyEdge"`
	Lemma          string         `json:"lemma"`
}

type DependencyEdge struct {
	HeadTokenIndex int    `json:"headTokenIndex"`
	Label          string `json:"label"`
}
