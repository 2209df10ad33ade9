package dashboard

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/pagination"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/relationship"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/stats"
)

// chartSlices is how many distribution entries the charts show.
const chartSlices = 8

var pageSizes = []int{10, 20, 50, 100}

type chartBar struct {
	stats.Share
	Color string
}

type tableView struct {
	Query      string
	Patterns   []attack.AttackPattern
	Total      int
	Page       int
	PageSize   int
	TotalPages int
	PageSizes  []int
	Links      []pageLink
}

type overviewView struct {
	stats.Dashboard
	PhaseBars    []chartBar
	PlatformBars []chartBar
}

type indexView struct {
	Title    string
	Catalog  panel[*attack.StatsResponse]
	Overview panel[overviewView]
	Table    panel[tableView]
}

// tableState reads page, page_size and q. Page sizes outside the selectable
// ones fall back to the default.
func tableState(c echo.Context) (*pagination.State, string) {
	p := pagination.Default()
	if size, err := strconv.Atoi(c.QueryParam("page_size")); err == nil && size >= 1 && size <= 100 {
		p.HandlePageSizeChange(size)
	}
	if page, err := strconv.Atoi(c.QueryParam("page")); err == nil && page >= 0 {
		p.HandlePageChange(page)
	}
	return p, strings.TrimSpace(c.QueryParam("q"))
}

// loadTable runs a search when q is set and lists the catalog otherwise.
func (s *Server) loadTable(c echo.Context) (tableView, error) {
	p, q := tableState(c)
	ctx := c.Request().Context()

	var (
		res *attack.SearchResponse
		err error
	)
	if q != "" {
		res, err = s.data.SearchPatterns(ctx, attack.SearchRequest{Query: q, Limit: p.PageSize(), Offset: p.Offset()})
	} else {
		res, err = s.data.ListPatterns(ctx, p.PageSize(), p.Offset())
	}

	view := tableView{Query: q, Page: p.Page(), PageSize: p.PageSize(), PageSizes: pageSizes}
	if err != nil {
		return view, err
	}

	view.Patterns = res.Results
	view.Total = res.Total
	view.TotalPages = p.TotalPages(res.Total)

	base := url.Values{}
	base.Set("page_size", strconv.Itoa(p.PageSize()))
	if q != "" {
		base.Set("q", q)
	}
	view.Links = pageLinks(base, p.Page(), view.TotalPages)
	return view, nil
}

func bars(shares []stats.Share, colors []string) []chartBar {
	n := min(len(shares), chartSlices)
	out := make([]chartBar, n)
	for i := range n {
		out[i] = chartBar{Share: shares[i]}
		if len(colors) > 0 {
			out[i].Color = colors[i%len(colors)]
		}
	}
	return out
}

func (s *Server) loadOverview(c echo.Context) (overviewView, error) {
	res, err := s.data.DashboardData(c.Request().Context())
	if err != nil {
		return overviewView{}, err
	}
	d := stats.Compute(res.Results)
	colors := s.palette.ChartColors(chartSlices)
	return overviewView{
		Dashboard:    d,
		PhaseBars:    bars(d.PhaseDistribution, colors),
		PlatformBars: bars(d.PlatformDistribution, colors),
	}, nil
}

func (s *Server) indexPage(c echo.Context) error {
	catalog, err := s.data.Stats(c.Request().Context())
	view := indexView{
		Title:   "ATT&CK Pattern Dashboard",
		Catalog: loaded(catalog, err),
	}
	overview, err := s.loadOverview(c)
	view.Overview = loaded(overview, err)
	table, err := s.loadTable(c)
	view.Table = loaded(table, err)

	return c.Render(http.StatusOK, "index.html", view)
}

type patternView struct {
	Title   string
	Pattern panel[*attack.AttackPattern]
	Related []relationship.Related
}

func (s *Server) patternPage(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	pattern, err := s.data.GetPattern(ctx, id)
	status := http.StatusOK
	if isNotFound(err) {
		status = http.StatusNotFound
	}
	view := patternView{Title: id, Pattern: loaded(pattern, err)}

	if err == nil {
		view.Title = pattern.Name
		if all, err := s.data.DashboardData(ctx); err == nil {
			view.Related = relationship.Compute(all.Results).Related(id)
			if len(view.Related) > 10 {
				view.Related = view.Related[:10]
			}
		}
	}

	return c.Render(status, "pattern.html", view)
}

type svgEdge struct {
	relationship.Edge
	X1, Y1, X2, Y2 int
	Dashed         bool
}

type graphView struct {
	Title     string
	Query     string
	Limit     int
	Shown     int
	Matched   int
	Nodes     []relationship.Node
	Edges     []svgEdge
	Width     int
	Height    int
	Legend    map[string]string
	Unordered bool
	Err       string
}

// graphParams reads q, limit and unordered.
func (s *Server) graphParams(c echo.Context) (string, int, []relationship.Option) {
	limit := s.graphLimit
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		limit = min(n, MaxGraphLimit)
	}
	var opts []relationship.Option
	if unordered, _ := strconv.ParseBool(c.QueryParam("unordered")); unordered {
		opts = append(opts, relationship.WithUnorderedPairs())
	}
	return strings.TrimSpace(c.QueryParam("q")), limit, opts
}

// buildGraph filters the catalog by q, keeps the first limit patterns and
// computes their graph. It also returns how many patterns matched q.
func (s *Server) buildGraph(c echo.Context) (relationship.Graph, int, error) {
	q, limit, opts := s.graphParams(c)
	res, err := s.data.DashboardData(c.Request().Context())
	if err != nil {
		return relationship.Graph{}, 0, err
	}
	patterns := relationship.Filter(res.Results, q)
	matched := len(patterns)
	if len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return relationship.Compute(patterns, opts...), matched, nil
}

func layoutEdges(g relationship.Graph) []svgEdge {
	pos := make(map[string]relationship.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		pos[n.ID] = n
	}
	edges := make([]svgEdge, 0, len(g.Edges))
	for _, e := range g.Edges {
		src, ok1 := pos[e.Source]
		dst, ok2 := pos[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		edges = append(edges, svgEdge{
			Edge:   e,
			X1:     src.X,
			Y1:     src.Y,
			X2:     dst.X,
			Y2:     dst.Y,
			Dashed: e.Type == relationship.TypeKeyword,
		})
	}
	return edges
}

func (s *Server) graphPage(c echo.Context) error {
	q, limit, opts := s.graphParams(c)
	view := graphView{
		Title:     "Technique Relationships",
		Query:     q,
		Limit:     limit,
		Unordered: len(opts) > 0,
		Legend: map[string]string{
			string(relationship.TypePhase):    s.palette.RelationshipColor(string(relationship.TypePhase)),
			string(relationship.TypePlatform): s.palette.RelationshipColor(string(relationship.TypePlatform)),
			string(relationship.TypeKeyword):  s.palette.RelationshipColor(string(relationship.TypeKeyword)),
		},
	}

	g, matched, err := s.buildGraph(c)
	if err != nil {
		view.Err = err.Error()
		return c.Render(http.StatusBadGateway, "graph.html", view)
	}

	view.Matched = matched
	view.Shown = len(g.Nodes)
	view.Nodes = g.Nodes
	view.Edges = layoutEdges(g)
	view.Width, view.Height = canvasSize(g.Nodes)

	return c.Render(http.StatusOK, "graph.html", view)
}

// canvasSize fits the grid with a margin of one cell origin.
func canvasSize(nodes []relationship.Node) (int, int) {
	w, h := 0, 0
	for _, n := range nodes {
		w = max(w, n.X)
		h = max(h, n.Y)
	}
	return w + 100, h + 100
}

