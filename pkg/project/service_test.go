package project

import (
	"context"
	"testing"

	"github.com/demeter-run/fabric/pkg/authn"
)

func TestCreateProject_RejectsApiKey(t *testing.T) {
	svc := &Service{}
	p := authn.Principal{Kind: authn.KindApiKey}

	if _, err := svc.CreateProject(context.Background(), p, CreateRequest{Name: "demo"}); err == nil {
		t.Error("expected api key principal to be rejected")
	}
}

func TestAcceptInvite_RejectsApiKey(t *testing.T) {
	svc := &Service{}
	p := authn.Principal{Kind: authn.KindApiKey}

	if err := svc.AcceptInvite(context.Background(), p, AcceptInviteRequest{Code: "whatever"}); err == nil {
		t.Error("expected api key principal to be rejected")
	}
}
