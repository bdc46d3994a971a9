package basedfeed

// Attribute is one trait entry of a metadata document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Metadata is the JSON document published to IPFS for each article.
// Required fields are pointers so that absence can be told from emptiness.
type Metadata struct {
	Name         *string      `json:"name"`
	Description  *string      `json:"description"`
	Image        *string      `json:"image"`
	Attributes   *[]Attribute `json:"attributes"`
	AnimationURL string       `json:"animation_url,omitempty"`
	ExternalURL  string       `json:"external_url,omitempty"`
}

// Missing lists the required fields absent from the document.
func (m Metadata) Missing() []string {
	var missing []string
	if m.Name == nil {
		missing = append(missing, "name")
	}
	if m.Description == nil {
		missing = append(missing, "description")
	}
	if m.Image == nil {
		missing = append(missing, "image")
	}
	if m.Attributes == nil {
		missing = append(missing, "attributes")
	}
	return missing
}

type ArticleRequest struct {
	ContentID string `json:"contentId"`
	Price     string `json:"price"`
	Stock     int64  `json:"stock"`
}

type OpenFeedRequest struct {
	Variant  string `json:"variant"`
	Viewer   string `json:"viewer"`
	PageSize int    `json:"pageSize"`
}

type BookmarkRequest struct {
	Bookmarked bool `json:"bookmarked"`
}
