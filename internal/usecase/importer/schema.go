package importer

import (
	"github.com/invopop/jsonschema"
)

// SubmissionSchema describes the accepted job descriptor as JSON Schema.
func SubmissionSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Submission{})
	s.Title = "Case import submission"
	s.Description = "Job descriptor accepted by the case import pipeline."
	return s
}
