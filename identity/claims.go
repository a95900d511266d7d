package identity

// Claim is a type/value pair attached to a role or user. Claims live inside
// the owning document and have no identity of their own; equality is
// structural.
type Claim struct {
	Type  string `dynamodbav:"type"`
	Value string `dynamodbav:"value"`
}

// Login records an external login (e.g. an OAuth provider) attached to a
// user. The Provider/ProviderKey pair is unique across all users.
type Login struct {
	Provider    string `dynamodbav:"provider"`
	ProviderKey string `dynamodbav:"provider_key"`
	DisplayName string `dynamodbav:"display_name,omitempty"`
}

// Token is a named token issued by a provider for a user (e.g. a refresh
// token). Tokens are keyed by Provider+Name within the owning user.
type Token struct {
	Provider string `dynamodbav:"provider"`
	Name     string `dynamodbav:"name"`
	Value    string `dynamodbav:"value"`
}

// removeClaim returns claims with every structural match of c removed.
func removeClaim(claims []Claim, c Claim) []Claim {
	out := claims[:0]
	for _, existing := range claims {
		if existing != c {
			out = append(out, existing)
		}
	}
	return out
}
