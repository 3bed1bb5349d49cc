package loader

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/delivery-insights/internal/resilience"
)

// FTPOptions configures the FTP drop fetcher.
type FTPOptions struct {
	Timeout time.Duration
	User    string
	Pass    string
}

// FetchFTP downloads the known table files from an FTP drop directory
// into destDir, skipping files absent on the server. Returns the local
// paths of the files it fetched.
func FetchFTP(ctx context.Context, dropURL, destDir string, opts FTPOptions) ([]string, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Pass = "anonymous@"
	}

	host, basePath, err := parseFTPURL(dropURL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "loader: create dest dir")
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "loader: ftp dial")
	}
	defer conn.Quit()

	if err := conn.Login(opts.User, opts.Pass); err != nil {
		return nil, eris.Wrap(err, "loader: ftp login")
	}

	retryCfg := resilience.DefaultRetryConfig()

	var fetched []string
	for _, table := range fileTables {
		remote := basePath + "/" + table.stem + ".csv"
		local := filepath.Join(destDir, table.stem+".csv")
		err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
			return retrToFile(conn, remote, local)
		})
		if err != nil {
			zap.L().Warn("loader: ftp file missing",
				zap.String("remote", remote),
				zap.Error(err),
			)
			continue
		}
		fetched = append(fetched, local)
	}

	if len(fetched) == 0 {
		return nil, eris.Errorf("loader: no table files at %s", dropURL)
	}
	return fetched, nil
}

func retrToFile(conn *ftp.ServerConn, remote, local string) error {
	resp, err := conn.Retr(remote)
	if err != nil {
		return eris.Wrap(err, "loader: ftp retrieve")
	}
	defer resp.Close()

	f, err := os.Create(local)
	if err != nil {
		return eris.Wrap(err, "loader: create local file")
	}
	defer f.Close()

	if _, err := io.Copy(f, resp); err != nil {
		return eris.Wrap(err, "loader: copy ftp payload")
	}
	return nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "loader: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("loader: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("loader: empty path in ftp url")
	}
	return host, path, nil
}
