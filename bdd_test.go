package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cucumber/godog"
	"github.com/gorilla/mux"
	"github.com/replyloop/backend/internal/handlers"
)

type bddTestContext struct {
	server       *httptest.Server
	lastResponse *http.Response
	lastBody     []byte
}

func (ctx *bddTestContext) reset() {
	if ctx.lastResponse != nil && ctx.lastResponse.Body != nil {
		ctx.lastResponse.Body.Close()
	}
	ctx.lastResponse = nil
	ctx.lastBody = nil
}

func (ctx *bddTestContext) theVerifyTokenIs(token string) error {
	return os.Setenv("IG_VERIFY_TOKEN", token)
}

func (ctx *bddTestContext) theAPIServerIsRunning() error {
	if ctx.server != nil {
		return nil
	}
	// Signature checks are off; these scenarios never reach the database.
	os.Setenv("IG_APP_SECRET", "")

	db, _, err := sqlmock.New()
	if err != nil {
		return fmt.Errorf("open mock db: %w", err)
	}
	h := handlers.New(db)
	router := mux.NewRouter()
	handlers.RegisterRoutes(h, router)
	ctx.server = httptest.NewServer(router)
	return nil
}

func (ctx *bddTestContext) iSendAGETRequestTo(path string) error {
	res, err := http.Get(ctx.server.URL + path)
	if err != nil {
		return err
	}
	return ctx.capture(res)
}

func (ctx *bddTestContext) iSendAPOSTRequestToWithJSON(path string, body *godog.DocString) error {
	res, err := http.Post(ctx.server.URL+path, "application/json", strings.NewReader(body.Content))
	if err != nil {
		return err
	}
	return ctx.capture(res)
}

func (ctx *bddTestContext) capture(res *http.Response) error {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	ctx.lastResponse = res
	ctx.lastBody = body
	return nil
}

func (ctx *bddTestContext) theResponseStatusCodeShouldBe(expected int) error {
	if ctx.lastResponse == nil {
		return fmt.Errorf("no response captured")
	}
	if ctx.lastResponse.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d (body: %s)", expected, ctx.lastResponse.StatusCode, ctx.lastBody)
	}
	return nil
}

func (ctx *bddTestContext) theResponseBodyShouldBe(expected string) error {
	if got := strings.TrimSpace(string(ctx.lastBody)); got != expected {
		return fmt.Errorf("expected body %q, got %q", expected, got)
	}
	return nil
}

func (ctx *bddTestContext) theResponseShouldContainJSONWithSetTo(field, value string) error {
	var parsed map[string]any
	if err := json.Unmarshal(ctx.lastBody, &parsed); err != nil {
		return fmt.Errorf("response is not JSON: %w (body: %s)", err, ctx.lastBody)
	}
	got, ok := parsed[field]
	if !ok {
		return fmt.Errorf("field %q missing from response: %s", field, ctx.lastBody)
	}
	if fmt.Sprintf("%v", got) != strings.Trim(value, `"`) {
		return fmt.Errorf("expected %q to be %s, got %v", field, value, got)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	testCtx := &bddTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.server != nil {
			testCtx.server.Close()
			testCtx.server = nil
		}
		return ctx, nil
	})

	ctx.Step(`^the verify token is "([^"]*)"$`, testCtx.theVerifyTokenIs)
	ctx.Step(`^the API server is running$`, testCtx.theAPIServerIsRunning)
	ctx.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	ctx.Step(`^I send a POST request to "([^"]*)" with JSON:$`, testCtx.iSendAPOSTRequestToWithJSON)
	ctx.Step(`^the response status code should be (\d+)$`, testCtx.theResponseStatusCodeShouldBe)
	ctx.Step(`^the response body should be "([^"]*)"$`, testCtx.theResponseBodyShouldBe)
	ctx.Step(`^the response should contain JSON with "([^"]*)" set to "([^"]*)"$`, testCtx.theResponseShouldContainJSONWithSetTo)
	ctx.Step(`^the response should contain JSON with "([^"]*)" set to (.+)$`, testCtx.theResponseShouldContainJSONWithSetTo)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
