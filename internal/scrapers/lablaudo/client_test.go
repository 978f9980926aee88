package lablaudo

import (
	"context"
	"io"
	"labwatch/internal/components/telemetry"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sessionCookie = "PHPSESSID"

const loginPage = `<html><body>
<h1>Acesso do paciente</h1>
<form method="post" action="/login">
	<input type="hidden" name="csrf" value="tok123">
	<input name="cpf">
	<input type="text" name="apelido">
	<input type="password" name="pin">
	<button type="submit">Entrar</button>
</form>
</body></html>`

func writeHtml(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, body)
}

func htmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHtml(w, body)
	}
}

func newPortal(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server) (*Client, *telemetry.Recorder) {
	t.Helper()
	rec := telemetry.NewRecorder()
	client, err := NewClient(ClientOptions{
		BaseUrl: server.URL,
		Timeout: time.Second * 5,
	}, rec)
	require.NoError(t, err)
	return client, rec
}

// markAuthenticated skips the login flow for tests of the later operations.
func markAuthenticated(c *Client, location string) {
	c.authenticated = true
	c.resultsLocation = location
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(ClientOptions{}, telemetry.NewRecorder())
	require.NoError(t, err)
	require.Equal(t, "https://lablaudo.com.br/acesso_paciente", client.LoginUrl())
	require.Equal(t, "", client.ResultsLocation())
	require.False(t, client.Authenticated())

	_, err = NewClient(ClientOptions{BaseUrl: "lablaudo.com.br"}, telemetry.NewRecorder())
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	var submitted url.Values
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /acesso_paciente": htmlHandler(loginPage),
		"POST /login": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			submitted = r.PostForm
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "s1", Path: "/"})
			http.Redirect(w, r, "/resultados", http.StatusSeeOther)
		},
		"GET /resultados": func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookie)
			if err != nil || cookie.Value != "s1" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			writeHtml(w, `<a href="/logout">Sair</a>`)
		},
	})
	client, _ := newTestClient(t, server)

	ok := client.Authenticate(context.Background(), "12345678900", "hunter2")
	require.True(t, ok)
	require.True(t, client.Authenticated())
	require.Equal(t, server.URL+"/resultados", client.ResultsLocation())

	require.Equal(t, "tok123", submitted.Get("csrf"))
	require.Equal(t, "12345678900", submitted.Get("username"))
	require.Equal(t, "12345678900", submitted.Get("identificacao"))
	require.Equal(t, "hunter2", submitted.Get("password"))
	require.Equal(t, "hunter2", submitted.Get("senha"))
	// an input without a type counts as text, only the first unfilled one is used
	require.Equal(t, "12345678900", submitted.Get("cpf"))
	require.False(t, submitted.Has("apelido"))
	require.Equal(t, "hunter2", submitted.Get("pin"))
}

func TestAuthenticateWithoutForm(t *testing.T) {
	var requests atomic.Int32
	server := newPortal(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			writeHtml(w, `<html><body><p>Em manutencao</p></body></html>`)
		},
	})
	client, rec := newTestClient(t, server)

	require.False(t, client.Authenticate(context.Background(), "user", "pass"))
	require.False(t, client.Authenticated())
	require.EqualValues(t, 1, requests.Load())
	require.Len(t, rec.Reports(telemetry.KindBroken, report_client_authenticate), 1)

	ready, err := client.CheckResults(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.False(t, ready)
	require.EqualValues(t, 1, requests.Load())
}

func TestAuthenticateRejected(t *testing.T) {
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /acesso_paciente": htmlHandler(loginPage),
		"POST /login": htmlHandler(`<html><body>
			<h1>Login</h1><p>Usuario ou senha invalidos</p><button>Entrar</button>
		</body></html>`),
	})
	client, _ := newTestClient(t, server)

	require.False(t, client.Authenticate(context.Background(), "user", "wrong"))
	require.False(t, client.Authenticated())
	require.Equal(t, "", client.ResultsLocation())
}

func TestAuthenticateLoginTokenQuirk(t *testing.T) {
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /acesso_paciente": htmlHandler(loginPage),
		"POST /login":          htmlHandler(`<html><body><h1>Login</h1><p>Usuario invalido</p></body></html>`),
	})
	client, _ := newTestClient(t, server)

	// known quirk: without "entrar" the page does not count as the login page
	require.True(t, client.Authenticate(context.Background(), "user", "wrong"))
	require.Equal(t, server.URL+"/login", client.ResultsLocation())
}

func TestAuthenticateFailures(t *testing.T) {
	testCases := []struct {
		name   string
		routes map[string]http.HandlerFunc
	}{
		{
			name: "login page error status",
			routes: map[string]http.HandlerFunc{
				"GET /acesso_paciente": func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
				},
			},
		},
		{
			name: "submit error status",
			routes: map[string]http.HandlerFunc{
				"GET /acesso_paciente": htmlHandler(loginPage),
				"POST /login": func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = io.WriteString(w, "bem-vindo")
				},
			},
		},
		{
			name: "timeout",
			routes: map[string]http.HandlerFunc{
				"GET /acesso_paciente": func(w http.ResponseWriter, r *http.Request) {
					select {
					case <-r.Context().Done():
					case <-time.After(time.Second):
					}
					writeHtml(w, loginPage)
				},
			},
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			server := newPortal(t, test.routes)
			rec := telemetry.NewRecorder()
			client, err := NewClient(ClientOptions{
				BaseUrl: server.URL,
				Timeout: time.Millisecond * 200,
			}, rec)
			require.NoError(t, err)

			require.False(t, client.Authenticate(context.Background(), "user", "pass"))
			require.False(t, client.Authenticated())
			require.NotEmpty(t, rec.Reports(telemetry.KindBroken, report_client_authenticate))
		})
	}
}

func TestAuthenticateFollowsRedirectToOtherHost(t *testing.T) {
	var server *httptest.Server
	server = newPortal(t, map[string]http.HandlerFunc{
		"GET /acesso_paciente": htmlHandler(loginPage),
		"POST /login": func(w http.ResponseWriter, r *http.Request) {
			alias := strings.Replace(server.URL, "127.0.0.1", "localhost", 1)
			http.Redirect(w, r, alias+"/painel", http.StatusFound)
		},
		"GET /painel": htmlHandler(`<a href="/logout">Sair</a>`),
	})
	client, _ := newTestClient(t, server)

	require.True(t, client.Authenticate(context.Background(), "user", "pass"))
	require.Equal(t, strings.Replace(server.URL, "127.0.0.1", "localhost", 1)+"/painel", client.ResultsLocation())
}

func TestAuthenticateRedirectLoop(t *testing.T) {
	var hops atomic.Int32
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /acesso_paciente": htmlHandler(loginPage),
		"POST /login": func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/voltar", http.StatusFound)
		},
		"GET /voltar": func(w http.ResponseWriter, r *http.Request) {
			hops.Add(1)
			http.Redirect(w, r, "/voltar", http.StatusFound)
		},
	})
	client, rec := newTestClient(t, server)

	require.False(t, client.Authenticate(context.Background(), "user", "pass"))
	require.LessOrEqual(t, hops.Load(), int32(maxRedirects))
	require.Len(t, rec.Reports(telemetry.KindBroken, report_client_authenticate), 1)
}

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (o *memoryOutput) Write(id, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages[id] = contents
}

func TestAuthenticateWithDumpOutput(t *testing.T) {
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /acesso_paciente": htmlHandler(loginPage),
		"POST /login": func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/resultados", http.StatusSeeOther)
		},
		"GET /resultados": htmlHandler(`<a href="/logout">Sair</a>`),
	})
	output := &memoryOutput{messages: map[string]string{}}
	client, err := NewClient(ClientOptions{
		BaseUrl:    server.URL,
		Timeout:    time.Second * 5,
		DumpOutput: output,
	}, telemetry.NewRecorder())
	require.NoError(t, err)

	require.True(t, client.Authenticate(context.Background(), "user", "pass"))
	require.Len(t, output.messages, 2)
	require.Contains(t, output.messages["1"], "GET "+server.URL+"/acesso_paciente")
	require.Contains(t, output.messages["1"], "<NO BODY>")
	require.Contains(t, output.messages["2"], "senha=pass")
}

func TestResolveFormAction(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseUrl: "https://portal.example"}, telemetry.NewRecorder())
	require.NoError(t, err)

	require.Equal(t, "https://other.example/auth", client.resolveFormAction("https://other.example/auth"))
	require.Equal(t, "http://portal.example/auth", client.resolveFormAction("http://portal.example/auth"))
	require.Equal(t, "https://portal.example/auth", client.resolveFormAction("/auth"))
	require.Equal(t, "https://portal.example/acesso_paciente", client.resolveFormAction(""))
	require.Equal(t, "https://portal.example/acesso_paciente", client.resolveFormAction("auth.php"))
}

func TestCheckResults(t *testing.T) {
	testCases := []struct {
		name     string
		page     string
		expected bool
	}{
		{
			name: "all ready",
			page: `<table>
				<tr><th>Exame</th><th>Status</th></tr>
				<tr class="success"><td>Hemograma</td><td>ok</td></tr>
				<tr><td>Glicose</td><td>Liberado</td></tr>
				<tr bgcolor="#8ff08f"><td>TSH</td><td>ok</td></tr>
				<tr><td colspan="2">Assinatura: Dr. Fulano</td></tr>
				<tr><td colspan="2"><a href="/get_laudo?id=1">Visualizar Laudo</a></td></tr>
			</table>`,
			expected: true,
		},
		{
			name: "one pending",
			page: `<table>
				<tr class="success"><td>Hemograma</td></tr>
				<tr><td>Glicose</td><td>Em andamento</td></tr>
			</table>`,
			expected: false,
		},
		{
			name:     "no rows",
			page:     `<p>Nenhum exame encontrado</p>`,
			expected: false,
		},
		{
			name: "only excluded rows",
			page: `<table>
				<tr><th>Exame</th></tr>
				<tr><td>Assinatura</td></tr>
			</table>`,
			expected: false,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			server := newPortal(t, map[string]http.HandlerFunc{
				"GET /resultados": htmlHandler(test.page),
			})
			client, _ := newTestClient(t, server)
			markAuthenticated(client, server.URL+"/resultados")

			ready, err := client.CheckResults(context.Background())
			require.NoError(t, err)
			require.Equal(t, test.expected, ready)
		})
	}
}

func TestIsStaleResultsPage(t *testing.T) {
	client, err := NewClient(ClientOptions{}, telemetry.NewRecorder())
	require.NoError(t, err)

	require.True(t, client.isStaleResultsPage([]byte("<p>resultados</p>")))

	client.resultsLocation = "https://lablaudo.com.br/resultados"
	require.False(t, client.isStaleResultsPage([]byte("<p>resultados</p>")))
	require.True(t, client.isStaleResultsPage([]byte("<button>ENTRAR</button>")))
}

func TestCheckResultsDiscoversResultsPage(t *testing.T) {
	var discovered atomic.Int32
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /painel": htmlHandler(`
			<a href="/ajuda">Ajuda</a>
			<a href="meus_resultados.php">Meus exames</a>
			<a href="/outro_laudo">Outro</a>
			<button>Entrar</button>`),
		"GET /meus_resultados.php": func(w http.ResponseWriter, _ *http.Request) {
			discovered.Add(1)
			// still stale, but discovery only happens once
			writeHtml(w, `<a href="/resultados_2">Entrar</a>
				<table><tr class="green"><td>Hemograma</td></tr></table>`)
		},
	})
	client, _ := newTestClient(t, server)
	markAuthenticated(client, server.URL+"/painel")

	ready, err := client.CheckResults(context.Background())
	require.NoError(t, err)
	require.True(t, ready)
	require.EqualValues(t, 1, discovered.Load())
	require.Equal(t, server.URL+"/painel", client.ResultsLocation())
}

func TestCheckResultsStaleWithoutLink(t *testing.T) {
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /painel": htmlHandler(`<button>Entrar</button>
			<table><tr><td>Hemograma</td><td>Pronto</td></tr></table>`),
	})
	client, _ := newTestClient(t, server)
	markAuthenticated(client, server.URL+"/painel")

	ready, err := client.CheckResults(context.Background())
	require.NoError(t, err)
	require.True(t, ready)
}

func TestCheckResultsNetworkFailure(t *testing.T) {
	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /painel": htmlHandler(`<button>Entrar</button><a href="/resultados">Resultados</a>`),
		"GET /resultados": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	})
	client, rec := newTestClient(t, server)
	markAuthenticated(client, server.URL+"/painel")

	ready, err := client.CheckResults(context.Background())
	require.NoError(t, err)
	require.False(t, ready)
	require.Len(t, rec.Reports(telemetry.KindBroken, report_client_check_results), 1)
}

func TestGetPdfLink(t *testing.T) {
	testCases := []struct {
		name     string
		page     string
		expected string
	}{
		{
			name: "phrase preferred over href marker",
			page: `<a href="/get_laudo?id=9">Abrir</a>
				<a href="https://cdn.example/laudo-123">Baixar</a>`,
			expected: "https://cdn.example/laudo-123",
		},
		{
			name:     "visualizar laudo",
			page:     `<a href="ver.php?id=3">  Visualizar
				Laudo</a>`,
			expected: "{origin}/ver.php?id=3",
		},
		{
			name:     "download text",
			page:     `<a href="/arquivo/77"><span>Download</span></a>`,
			expected: "{origin}/arquivo/77",
		},
		{
			name:     "href marker",
			page:     `<a href="/ajuda">Ajuda</a><a href="/get_laudo?id=9">Abrir</a>`,
			expected: "{origin}/get_laudo?id=9",
		},
		{
			name:     "nothing",
			page:     `<a href="/ajuda">Ajuda</a><a>Baixar</a>`,
			expected: "",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			server := newPortal(t, map[string]http.HandlerFunc{
				"GET /resultados": htmlHandler(test.page),
			})
			client, _ := newTestClient(t, server)
			markAuthenticated(client, server.URL+"/resultados")

			link, err := client.GetPdfLink(context.Background())
			require.NoError(t, err)

			expected := test.expected
			if expected != "" && expected[0] == '{' {
				expected = server.URL + expected[len("{origin}"):]
			}
			require.Equal(t, expected, link)
		})
	}
}

func TestGetPdfLinkNetworkFailure(t *testing.T) {
	server := newPortal(t, nil)
	client, rec := newTestClient(t, server)
	markAuthenticated(client, server.URL+"/resultados")

	link, err := client.GetPdfLink(context.Background())
	require.NoError(t, err)
	require.Equal(t, "", link)
	require.Len(t, rec.Reports(telemetry.KindBroken, report_client_get_pdf_link), 1)
}

func TestOperationsRequireAuthentication(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseUrl: "http://127.0.0.1:1"}, telemetry.NewRecorder())
	require.NoError(t, err)

	ready, err := client.CheckResults(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.False(t, ready)

	link, err := client.GetPdfLink(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Equal(t, "", link)

	document, err := client.DownloadPdf(context.Background(), "http://127.0.0.1:1/laudo.pdf")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Nil(t, document)
}

func TestEndToEnd(t *testing.T) {
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF")

	server := newPortal(t, map[string]http.HandlerFunc{
		"GET /acesso_paciente": htmlHandler(loginPage),
		"POST /login": func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "s1", Path: "/"})
			http.Redirect(w, r, "/resultados", http.StatusFound)
		},
		"GET /resultados": htmlHandler(`<html><body>
			<h1>Resultados</h1>
			<table>
				<tr><th>Exame</th><th>Data</th></tr>
				<tr class="success"><td>Hemograma</td><td>01/10</td></tr>
				<tr class="success"><td>Glicose</td><td>01/10</td></tr>
				<tr class="success"><td>TSH</td><td>02/10</td></tr>
			</table>
			<a href="/get_laudo?id=42">Baixar</a>
			<a href="/logout">Sair</a>
		</body></html>`),
		"GET /get_laudo": func(w http.ResponseWriter, r *http.Request) {
			if _, err := r.Cookie(sessionCookie); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(pdf)
		},
	})
	client, rec := newTestClient(t, server)
	ctx := context.Background()

	require.True(t, client.Authenticate(ctx, "user", "pass"))

	ready, err := client.CheckResults(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	link, err := client.GetPdfLink(ctx)
	require.NoError(t, err)
	require.Equal(t, server.URL+"/get_laudo?id=42", link)

	document, err := client.DownloadPdf(ctx, link)
	require.NoError(t, err)
	require.NotNil(t, document)
	require.Equal(t, pdf, document.Contents)
	require.Equal(t, "lab_results.pdf", document.Filename)

	require.Empty(t, rec.Reports(telemetry.KindBroken, ""))
}
