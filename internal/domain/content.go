package domain

// MalformedImageURI is what the publishing frontend stored when it serialized
// an object instead of the uploaded image path. Historical records contain it.
const MalformedImageURI = "https://ipfs.io/ipfs/[object Object]"

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// ContentRecord is the metadata document stored in the content-addressed store.
type ContentRecord struct {
	ContentID    string      `json:"contentId"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	ImageURI     string      `json:"image"`
	AnimationURL string      `json:"animation_url,omitempty"`
	ExternalURL  string      `json:"external_url,omitempty"`
	Attributes   []Attribute `json:"attributes"`
}

// Validate reports a MalformedRecordError for records that must not be shown.
func (c ContentRecord) Validate() error {
	if c.ImageURI == MalformedImageURI {
		return MalformedRecordError{ContentID: c.ContentID, Reason: "invalid image url"}
	}
	if c.ImageURI == "" {
		return MalformedRecordError{ContentID: c.ContentID, Reason: "missing image"}
	}
	if c.Name == "" {
		return MalformedRecordError{ContentID: c.ContentID, Reason: "missing name"}
	}
	return nil
}
