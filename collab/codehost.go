package collab

import "context"

// FileChange is one changed file in a change request.
type FileChange struct {
	Path      string
	Status    string
	Additions int
	Deletions int
}

// ChangeContext is the fetched review context for one change request:
// the diff, changed files and the refs the workflow needs to create
// branches and merge requests.
type ChangeContext struct {
	Repository string
	RequestID  int
	Title      string
	Author     string
	Diff       string
	Files      []FileChange
	HeadSHA    string
	BaseRef    string
}

// Ref points at a created branch or change request.
type Ref struct {
	Name string
	SHA  string
	URL  string
}

// Ack acknowledges a posted result.
type Ack struct {
	ID int64
}

// CodeHost is the code-hosting collaborator. Every method may return a
// *Error; transient ones are safe to retry.
type CodeHost interface {
	// FetchContext loads the review context for a change request.
	FetchContext(ctx context.Context, repo string, requestID int) (ChangeContext, error)

	// PostResult publishes a human-readable result on the change request.
	PostResult(ctx context.Context, repo string, requestID int, body string) (Ack, error)

	// CreateBranch creates a branch from the given base commit.
	CreateBranch(ctx context.Context, repo, name, baseSHA string) (Ref, error)

	// CreateChangeRequest opens a change request merging head into base.
	CreateChangeRequest(ctx context.Context, repo, title, body, head, base string) (Ref, error)

	// GetFileContent reads a file at the given ref.
	GetFileContent(ctx context.Context, repo, path, ref string) ([]byte, error)

	// UpdateFile writes new content to a file on a branch.
	UpdateFile(ctx context.Context, repo, branch, path string, content []byte, message string) error
}
