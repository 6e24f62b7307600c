package monitor

import "html/template"

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { background: #111; color: #ddd; font-family: monospace; margin: 16px; }
        .grid { display: grid; grid-template-columns: minmax(320px, 2fr) 1fr; gap: 16px; }
        .panel { background: #1c1c1c; border-radius: 6px; padding: 12px; }
        img { width: 100%; image-rendering: pixelated; background: #000; }
        table { width: 100%; border-collapse: collapse; }
        td { padding: 2px 6px; border-bottom: 1px solid #333; }
        td.num { text-align: right; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #444; }
        .badge.live { background: #2a7a2a; }
        .badge.stale { background: #7a2a2a; }
    </style>
</head>
<body>
    <h1>{{.Title}} <span class="badge" id="state">waiting</span></h1>
    <div class="grid">
        <div class="panel">
            <img id="feed" src="/stream" alt="framebuffer">
            <p id="last-frame">no frame yet</p>
        </div>
        <div class="panel">
            <h2>Counters</h2>
            <table id="counters"></table>
            <h2>Sessions</h2>
            <table id="sessions"></table>
        </div>
    </div>
    <script>
        const state = document.getElementById('state');
        const counters = document.getElementById('counters');
        const sessions = document.getElementById('sessions');
        const lastFrame = document.getElementById('last-frame');

        function row(cells) {
            const tr = document.createElement('tr');
            cells.forEach((c, i) => {
                const td = document.createElement('td');
                td.textContent = c;
                if (i > 0 && typeof c === 'number') td.className = 'num';
                tr.appendChild(td);
            });
            return tr;
        }

        function render(status) {
            counters.replaceChildren(...Object.entries(status.receiver).map(([k, v]) =>
                row([k, typeof v === 'number' ? Math.round(v * 10) / 10 : v])));
            sessions.replaceChildren(...status.sessions.map(s =>
                row([s.peer, s.mode, s.in_frame ? s.remaining_bytes + ' left' : 'idle', s.idle_ms + 'ms'])));

            const f = status.last_frame;
            if (f) {
                lastFrame.textContent = '#' + f.seq + ' ' + f.width + 'x' + f.height +
                    ' from ' + f.peer + ', latency ' + f.latency_ms + 'ms';
            }
            const live = status.receiver.fps > 0;
            state.textContent = live ? status.receiver.fps.toFixed(1) + ' fps' : 'idle';
            state.className = 'badge ' + (live ? 'live' : 'stale');
        }

        const events = new EventSource('/api/status/stream');
        events.onmessage = (e) => render(JSON.parse(e.data));
        events.onerror = () => { state.textContent = 'disconnected'; state.className = 'badge stale'; };
    </script>
</body>
</html>
`))
