package entities

// Credential is the access/refresh token pair issued by the backend
type Credential struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// Complete reports whether both tokens are present
func (c Credential) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}
