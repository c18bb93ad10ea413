package factory

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/lychee-technology/dataverse"
	"github.com/lychee-technology/dataverse/internal"
)

// NewClient creates a Client bound to one Dataverse environment.
// This is the primary way for external projects to construct the client.
//
// A nil config falls back to DefaultConfig; BaseURL must be set either way.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/dataverse"
//	    "github.com/lychee-technology/dataverse/factory"
//	)
//
//	cfg := dataverse.DefaultConfig()
//	cfg.BaseURL = "https://org.crm.dynamics.com"
//	client, err := factory.NewClient(cfg, tokens)
//	if err != nil {
//	    // handle error
//	}
func NewClient(cfg *dataverse.Config, tokens dataverse.TokenProvider) (dataverse.Client, error) {
	return internal.NewClient(cfg, tokens)
}

// NewClientWithCredential creates a Client that authenticates with an Azure
// credential, e.g. *azidentity.ClientSecretCredential or
// *azidentity.DefaultAzureCredential. Tokens are cached and refreshed
// shortly before expiry.
//
// Usage:
//
//	cred, err := azidentity.NewDefaultAzureCredential(nil)
//	if err != nil {
//	    // handle error
//	}
//	client, err := factory.NewClientWithCredential(cfg, cred)
func NewClientWithCredential(cfg *dataverse.Config, cred azcore.TokenCredential) (dataverse.Client, error) {
	if cred == nil {
		return nil, dataverse.NewValidationError("credential is required")
	}
	return internal.NewClient(cfg, dataverse.NewCredentialTokenProvider(cred))
}
