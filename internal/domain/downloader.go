package domain

// Command is a fully resolved external program invocation
type Command struct {
	Binary string
	Args   []string
}

// CommandBuilder produces the download commands run by the supervisor
type CommandBuilder interface {
	// CollectionCommand downloads everything behind url into outputDir
	CollectionCommand(url, outputDir string, collection bool) Command

	// ItemCommand downloads a single selected item into folderDir
	ItemCommand(url, folderDir string) Command

	// Validate checks that the external tool is available
	Validate() error
}

// DownloadHistory reports items fetched by earlier runs
type DownloadHistory interface {
	// Seen returns, per url, whether the item was already downloaded
	Seen(urls []string) []bool
}
